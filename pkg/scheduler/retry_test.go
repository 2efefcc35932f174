package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryTrackerExhaustsAtLimit(t *testing.T) {
	tr := newRetryTracker(time.Minute, 3)
	key := "env-1/web"

	assert.False(t, tr.Exhausted(key))
	tr.Record(key)
	tr.Record(key)
	assert.False(t, tr.Exhausted(key))
	tr.Record(key)
	assert.True(t, tr.Exhausted(key))
}

func TestRetryTrackerWindowSlides(t *testing.T) {
	tr := newRetryTracker(time.Minute, 2)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }

	tr.Record("k")
	tr.Record("k")
	assert.True(t, tr.Exhausted("k"))

	now = now.Add(2 * time.Minute)
	assert.False(t, tr.Exhausted("k"))
}

func TestRetryTrackerKeysIndependent(t *testing.T) {
	tr := newRetryTracker(time.Minute, 1)
	tr.Record("a")
	assert.True(t, tr.Exhausted("a"))
	assert.False(t, tr.Exhausted("b"))
}

func TestRetryTrackerReset(t *testing.T) {
	tr := newRetryTracker(time.Minute, 1)
	tr.Record("k")
	assert.True(t, tr.Exhausted("k"))
	tr.Reset("k")
	assert.False(t, tr.Exhausted("k"))
}
