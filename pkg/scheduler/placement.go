package scheduler

import (
	"fmt"
	"sort"

	"github.com/plfm/plfm/pkg/types"
)

// nodeLoad tracks a node's remaining capacity during one reconcile pass.
// Placements made within the pass are charged immediately so one pass
// never oversubscribes a node.
type nodeLoad struct {
	node     *types.Node
	freeCPU  float64
	freeMem  int64
	count    int
}

// buildLoads charges every active instance against its node
func buildLoads(nodes []*types.Node, instances []*types.Instance) map[string]*nodeLoad {
	loads := make(map[string]*nodeLoad, len(nodes))
	for _, n := range nodes {
		loads[n.NodeID] = &nodeLoad{
			node:    n,
			freeCPU: n.Allocatable.CPUCores,
			freeMem: n.Allocatable.MemoryBytes,
		}
	}
	for _, in := range instances {
		if l, ok := loads[in.NodeID]; ok {
			l.freeCPU -= in.Resources.CPUCores
			l.freeMem -= in.Resources.MemoryBytes
			l.count++
		}
	}
	return loads
}

// pickNode chooses the active node with the most free memory that fits
// the request, ties broken by free CPU then node id. Returns
// types.ErrNoEligibleNodes when nothing fits.
func pickNode(loads map[string]*nodeLoad, cpu float64, mem int64) (*nodeLoad, error) {
	var eligible []*nodeLoad
	for _, l := range loads {
		if l.node.State != types.NodeActive {
			continue
		}
		if l.freeCPU < cpu || l.freeMem < mem {
			continue
		}
		eligible = append(eligible, l)
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no node fits cpu=%.2f mem=%d: %w", cpu, mem, types.ErrNoEligibleNodes)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].freeMem != eligible[j].freeMem {
			return eligible[i].freeMem > eligible[j].freeMem
		}
		if eligible[i].freeCPU != eligible[j].freeCPU {
			return eligible[i].freeCPU > eligible[j].freeCPU
		}
		return eligible[i].node.NodeID < eligible[j].node.NodeID
	})
	return eligible[0], nil
}

// charge records a placement against the chosen node
func (l *nodeLoad) charge(cpu float64, mem int64) {
	l.freeCPU -= cpu
	l.freeMem -= mem
	l.count++
}
