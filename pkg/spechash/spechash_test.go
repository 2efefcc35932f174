package spechash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeDeterministic(t *testing.T) {
	in := Inputs{
		ReleaseID:        "rel_R1",
		ProcessType:      "web",
		SecretsVersionID: "sv_1",
		VolumeMounts:     map[string]string{"vol_a": "/data", "vol_b": "/cache"},
	}

	h1 := Compute(in)
	h2 := Compute(in)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
}

func TestComputeMapOrderIndependent(t *testing.T) {
	a := Inputs{
		ReleaseID:   "rel_R1",
		ProcessType: "web",
		VolumeMounts: map[string]string{
			"vol_a": "/data",
			"vol_b": "/cache",
			"vol_c": "/tmp",
		},
	}
	b := Inputs{
		ReleaseID:   "rel_R1",
		ProcessType: "web",
		VolumeMounts: map[string]string{
			"vol_c": "/tmp",
			"vol_b": "/cache",
			"vol_a": "/data",
		},
	}

	assert.Equal(t, Compute(a), Compute(b))
}

func TestComputeSensitivity(t *testing.T) {
	base := Inputs{ReleaseID: "rel_R1", ProcessType: "web"}

	tests := []struct {
		name string
		in   Inputs
	}{
		{"release change", Inputs{ReleaseID: "rel_R2", ProcessType: "web"}},
		{"process change", Inputs{ReleaseID: "rel_R1", ProcessType: "worker"}},
		{"secrets added", Inputs{ReleaseID: "rel_R1", ProcessType: "web", SecretsVersionID: "sv_1"}},
		{"volume added", Inputs{ReleaseID: "rel_R1", ProcessType: "web", VolumeMounts: map[string]string{"v": "/d"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, Compute(base), Compute(tt.in))
		})
	}
}

func TestEmptySecretsEqualsNone(t *testing.T) {
	// empty string and absent secrets are the same identity
	a := Compute(Inputs{ReleaseID: "r", ProcessType: "p", SecretsVersionID: ""})
	b := Compute(Inputs{ReleaseID: "r", ProcessType: "p"})
	assert.Equal(t, a, b)
}
