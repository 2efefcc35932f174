package command

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func TestNormalizeHostname(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"App.Example.COM", "app.example.com"},
		{"app.example.com.", "app.example.com"},
		{"  app.example.com ", "app.example.com"},
		{"already.lower", "already.lower"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeHostname(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeHostnameIdempotent(t *testing.T) {
	once := NormalizeHostname("App.Example.COM.")
	assert.Equal(t, once, NormalizeHostname(once))
}

func TestManifestHashStable(t *testing.T) {
	a := map[string]*types.ProcessSpec{
		"web":    {CPUCores: 1, MemoryBytes: 512 << 20, Port: 8080},
		"worker": {CPUCores: 0.5, MemoryBytes: 256 << 20},
	}
	b := map[string]*types.ProcessSpec{
		"worker": {CPUCores: 0.5, MemoryBytes: 256 << 20},
		"web":    {CPUCores: 1, MemoryBytes: 512 << 20, Port: 8080},
	}

	ha, err := manifestHash(a)
	require.NoError(t, err)
	hb, err := manifestHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b["web"].Port = 9090
	hc, err := manifestHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestNodeTransitions(t *testing.T) {
	allowed := func(from, to types.NodeState) bool {
		for _, next := range validNodeTransitions[from] {
			if next == to {
				return true
			}
		}
		return false
	}

	assert.True(t, allowed(types.NodeActive, types.NodeDraining))
	assert.True(t, allowed(types.NodeDraining, types.NodeActive))
	assert.True(t, allowed(types.NodeOffline, types.NodeActive))
	assert.False(t, allowed(types.NodeDisabled, types.NodeDraining))
	assert.False(t, allowed(types.NodeActive, types.NodeActive))
}

func TestSystemCaller(t *testing.T) {
	c := SystemCaller("scheduler", "req-1")
	assert.Equal(t, types.ActorSystem, c.Principal.ActorType)
	assert.Equal(t, "scheduler", c.Principal.ActorID)
	assert.True(t, c.Principal.CanWrite())
}

func TestEffectiveIdempotencyKeyPrefersHeader(t *testing.T) {
	assert.Equal(t, "client-chosen", effectiveIdempotencyKey("client-chosen", "abc123"))
}

func TestEffectiveIdempotencyKeyDerivesFromBodyHash(t *testing.T) {
	a := effectiveIdempotencyKey("", "abc123")
	b := effectiveIdempotencyKey("", "abc123")
	c := effectiveIdempotencyKey("", "def456")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "derived:abc123", a)
}
