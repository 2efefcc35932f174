package plan

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfm/plfm/pkg/types"
)

func testRelease() *types.Release {
	return &types.Release{
		ReleaseID:   "rel-1",
		ImageRef:    "registry.example.com/app:v3",
		ImageDigest: "sha256:default",
		ImageDigestByArch: map[string]string{
			"arm64": "sha256:arm",
			"amd64": "sha256:amd",
		},
		Command: []string{"/app/server"},
		ProcessTypes: map[string]*types.ProcessSpec{
			"web":    {Port: 8080},
			"worker": {Command: []string{"/app/worker"}},
		},
	}
}

func testPlanInstance(id, proc string) *types.Instance {
	return &types.Instance{
		InstanceID:   id,
		EnvID:        "env-1",
		ProcessType:  proc,
		ReleaseID:    "rel-1",
		DesiredState: types.DesiredRunning,
		OverlayIPv6:  net.ParseIP("fd00::1"),
		Resources:    types.ResourceSnapshot{CPUCores: 0.5, MemoryBytes: 256 << 20},
		SpecHash:     "abcd1234abcd1234",
		Generation:   1,
	}
}

func TestBuildWorkloadPrefersArchDigest(t *testing.T) {
	w := BuildWorkload(testRelease(), testPlanInstance("i-1", "web"), "arm64", nil)
	assert.Equal(t, "sha256:arm", w.ImageDigest)

	w = BuildWorkload(testRelease(), testPlanInstance("i-1", "web"), "riscv", nil)
	assert.Equal(t, "sha256:default", w.ImageDigest)
}

func TestBuildWorkloadProcessCommandOverride(t *testing.T) {
	w := BuildWorkload(testRelease(), testPlanInstance("i-1", "worker"), "amd64", nil)
	assert.Equal(t, []string{"/app/worker"}, w.Command)

	w = BuildWorkload(testRelease(), testPlanInstance("i-1", "web"), "amd64", nil)
	assert.Equal(t, []string{"/app/server"}, w.Command)
	assert.Equal(t, 8080, w.Port)
}

func TestBuildWorkloadSortsMounts(t *testing.T) {
	attachments := []*types.VolumeAttachment{
		{VolumeID: "vol-b", MountPath: "/data/z"},
		{VolumeID: "vol-a", MountPath: "/data/a"},
	}
	w := BuildWorkload(testRelease(), testPlanInstance("i-1", "web"), "amd64", attachments)
	require.Len(t, w.Mounts, 2)
	assert.Equal(t, "/data/a", w.Mounts[0].MountPath)
	assert.Equal(t, "/data/z", w.Mounts[1].MountPath)
}

func TestSpecVersionStable(t *testing.T) {
	a := BuildWorkload(testRelease(), testPlanInstance("i-1", "web"), "amd64", nil)
	b := BuildWorkload(testRelease(), testPlanInstance("i-2", "worker"), "amd64", nil)

	v1, err := SpecVersion([]Workload{a, b})
	require.NoError(t, err)
	v2, err := SpecVersion([]Workload{a, b})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 16)
}

func TestSpecVersionChangesWithContent(t *testing.T) {
	a := BuildWorkload(testRelease(), testPlanInstance("i-1", "web"), "amd64", nil)
	v1, err := SpecVersion([]Workload{a})
	require.NoError(t, err)

	drained := a
	drained.DesiredState = types.DesiredDraining
	v2, err := SpecVersion([]Workload{drained})
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}
