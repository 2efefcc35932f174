package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfm/plfm/pkg/types"
)

func testNode(id string, cpu float64, mem int64, state types.NodeState) *types.Node {
	return &types.Node{
		NodeID: id,
		State:  state,
		Allocatable: types.NodeAllocatable{
			CPUCores:    cpu,
			MemoryBytes: mem,
		},
	}
}

func testInstance(id, nodeID string, cpu float64, mem int64) *types.Instance {
	return &types.Instance{
		InstanceID:   id,
		NodeID:       nodeID,
		DesiredState: types.DesiredRunning,
		Resources:    types.ResourceSnapshot{CPUCores: cpu, MemoryBytes: mem},
	}
}

func TestPickNodeMostFreeFirst(t *testing.T) {
	nodes := []*types.Node{
		testNode("node-a", 4, 8<<30, types.NodeActive),
		testNode("node-b", 8, 16<<30, types.NodeActive),
	}
	loads := buildLoads(nodes, nil)

	picked, err := pickNode(loads, 1, 1<<30)
	require.NoError(t, err)
	assert.Equal(t, "node-b", picked.node.NodeID)
}

func TestPickNodeChargesExistingInstances(t *testing.T) {
	nodes := []*types.Node{
		testNode("node-a", 4, 8<<30, types.NodeActive),
		testNode("node-b", 4, 8<<30, types.NodeActive),
	}
	// node-b is busier
	instances := []*types.Instance{
		testInstance("i-1", "node-b", 3, 4<<30),
	}
	loads := buildLoads(nodes, instances)

	picked, err := pickNode(loads, 1, 1<<30)
	require.NoError(t, err)
	assert.Equal(t, "node-a", picked.node.NodeID)
}

func TestPickNodeOrdersByMemoryBeforeCPU(t *testing.T) {
	// node-a has more free CPU, node-b more free memory: memory wins
	nodes := []*types.Node{
		testNode("node-a", 16, 8<<30, types.NodeActive),
		testNode("node-b", 4, 16<<30, types.NodeActive),
	}
	loads := buildLoads(nodes, nil)

	picked, err := pickNode(loads, 1, 1<<30)
	require.NoError(t, err)
	assert.Equal(t, "node-b", picked.node.NodeID)
}

func TestPickNodeTieBreaksByID(t *testing.T) {
	nodes := []*types.Node{
		testNode("node-b", 4, 8<<30, types.NodeActive),
		testNode("node-a", 4, 8<<30, types.NodeActive),
	}
	loads := buildLoads(nodes, nil)

	picked, err := pickNode(loads, 1, 1<<30)
	require.NoError(t, err)
	assert.Equal(t, "node-a", picked.node.NodeID)
}

func TestPickNodeSkipsNonActive(t *testing.T) {
	nodes := []*types.Node{
		testNode("node-a", 8, 16<<30, types.NodeDraining),
		testNode("node-b", 2, 4<<30, types.NodeActive),
	}
	loads := buildLoads(nodes, nil)

	picked, err := pickNode(loads, 1, 1<<30)
	require.NoError(t, err)
	assert.Equal(t, "node-b", picked.node.NodeID)
}

func TestPickNodeNoFit(t *testing.T) {
	nodes := []*types.Node{
		testNode("node-a", 1, 1<<30, types.NodeActive),
	}
	loads := buildLoads(nodes, nil)

	_, err := pickNode(loads, 2, 1<<30)
	assert.True(t, errors.Is(err, types.ErrNoEligibleNodes))
}

func TestChargeReducesCapacityWithinPass(t *testing.T) {
	nodes := []*types.Node{
		testNode("node-a", 2, 4<<30, types.NodeActive),
		testNode("node-b", 2, 4<<30, types.NodeActive),
	}
	loads := buildLoads(nodes, nil)

	first, err := pickNode(loads, 1.5, 1<<30)
	require.NoError(t, err)
	first.charge(1.5, 1<<30)

	second, err := pickNode(loads, 1.5, 1<<30)
	require.NoError(t, err)
	assert.NotEqual(t, first.node.NodeID, second.node.NodeID)
}
