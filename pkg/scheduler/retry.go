package scheduler

import (
	"sync"
	"time"
)

const (
	defaultRetryWindow = 10 * time.Minute
	defaultRetryLimit  = 5
)

// retryTracker counts failures per key over a sliding window. A key
// whose budget runs out is parked until the window slides past its
// failures.
type retryTracker struct {
	window time.Duration
	limit  int

	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func newRetryTracker(window time.Duration, limit int) *retryTracker {
	if window <= 0 {
		window = defaultRetryWindow
	}
	if limit <= 0 {
		limit = defaultRetryLimit
	}
	return &retryTracker{
		window:   window,
		limit:    limit,
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Record registers one failure for key
func (t *retryTracker) Record(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[key] = append(t.prune(key), t.now())
}

// Exhausted reports whether key has burned its budget
func (t *retryTracker) Exhausted(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	recent := t.prune(key)
	if len(recent) == 0 {
		delete(t.failures, key)
	} else {
		t.failures[key] = recent
	}
	return len(recent) >= t.limit
}

// Reset clears the history for key, typically after a success
func (t *retryTracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, key)
}

func (t *retryTracker) prune(key string) []time.Time {
	cutoff := t.now().Add(-t.window)
	var recent []time.Time
	for _, ts := range t.failures[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	return recent
}
