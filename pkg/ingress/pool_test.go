package ingress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolRoundRobin(t *testing.T) {
	p := NewBackendPool([]string{"a", "b", "c"})

	assert.Equal(t, "a", p.Pick())
	assert.Equal(t, "b", p.Pick())
	assert.Equal(t, "c", p.Pick())
	assert.Equal(t, "a", p.Pick())
}

func TestPoolSkipsUnhealthy(t *testing.T) {
	p := NewBackendPool([]string{"a", "b", "c"})
	p.MarkUnhealthy("b")

	assert.Equal(t, "a", p.Pick())
	assert.Equal(t, "c", p.Pick())
	assert.Equal(t, "a", p.Pick())
}

func TestPoolAllUnhealthyPicksNone(t *testing.T) {
	p := NewBackendPool([]string{"a", "b"})
	p.MarkUnhealthy("a")
	p.MarkUnhealthy("b")

	assert.Equal(t, "", p.Pick())
}

func TestPoolUnhealthyCooldownExpires(t *testing.T) {
	base := time.Now()
	poolNow = func() time.Time { return base }
	defer func() { poolNow = time.Now }()

	p := NewBackendPool([]string{"a"})
	p.MarkUnhealthy("a")
	assert.Equal(t, "", p.Pick())

	poolNow = func() time.Time { return base.Add(unhealthyCooldown + time.Second) }
	assert.Equal(t, "a", p.Pick())
}

func TestPoolRecovery(t *testing.T) {
	p := NewBackendPool([]string{"a", "b"})
	p.MarkUnhealthy("a")
	p.MarkHealthy("a")

	picks := map[string]bool{}
	for i := 0; i < 4; i++ {
		picks[p.Pick()] = true
	}
	assert.True(t, picks["a"])
	assert.True(t, picks["b"])
}

func TestPoolEmpty(t *testing.T) {
	p := NewBackendPool(nil)
	assert.Equal(t, "", p.Pick())
}

func TestPoolSetBackendsDropsStaleHealth(t *testing.T) {
	p := NewBackendPool([]string{"a", "b"})
	p.MarkUnhealthy("a")
	p.MarkUnhealthy("b")

	// "a" is removed and re-added later: its old mark must not stick
	p.SetBackends([]string{"b"})
	p.SetBackends([]string{"a", "b"})

	assert.Equal(t, "a", p.Pick())
}

func TestPoolSetBackendsKeepsSurvivorHealth(t *testing.T) {
	p := NewBackendPool([]string{"a", "b"})
	p.MarkUnhealthy("a")

	p.SetBackends([]string{"a", "b", "c"})
	assert.Equal(t, "b", p.Pick())
}
