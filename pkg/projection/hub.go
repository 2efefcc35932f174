package projection

import (
	"context"
	"sync"
	"time"

	"github.com/plfm/plfm/pkg/types"
)

// CheckpointHub tracks the in-memory high-water mark of every projection
// and wakes read-your-writes waiters when a checkpoint advances.
type CheckpointHub struct {
	mu      sync.Mutex
	marks   map[string]int64
	waiters map[chan struct{}]bool
}

// NewCheckpointHub creates an empty hub
func NewCheckpointHub() *CheckpointHub {
	return &CheckpointHub{
		marks:   make(map[string]int64),
		waiters: make(map[chan struct{}]bool),
	}
}

// Advance records that a projection has applied up to eventID. Marks
// never move backward.
func (h *CheckpointHub) Advance(name string, eventID int64) {
	h.mu.Lock()
	if eventID <= h.marks[name] {
		h.mu.Unlock()
		return
	}
	h.marks[name] = eventID
	for w := range h.waiters {
		close(w)
		delete(h.waiters, w)
	}
	h.mu.Unlock()
}

// Checkpoint returns the current in-memory mark for a projection
func (h *CheckpointHub) Checkpoint(name string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.marks[name]
}

// WaitFor blocks until every named projection has passed eventID, the
// timeout fires, or ctx is cancelled. Timeout returns
// types.ErrProjectionTimeout; the event is already durable either way.
func (h *CheckpointHub) WaitFor(ctx context.Context, names []string, eventID int64, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		h.mu.Lock()
		if h.caughtUp(names, eventID) {
			h.mu.Unlock()
			return nil
		}
		wake := make(chan struct{})
		h.waiters[wake] = true
		h.mu.Unlock()

		select {
		case <-wake:
		case <-deadline.C:
			h.dropWaiter(wake)
			return types.ErrProjectionTimeout
		case <-ctx.Done():
			h.dropWaiter(wake)
			return ctx.Err()
		}
	}
}

func (h *CheckpointHub) caughtUp(names []string, eventID int64) bool {
	for _, n := range names {
		if h.marks[n] < eventID {
			return false
		}
	}
	return true
}

func (h *CheckpointHub) dropWaiter(w chan struct{}) {
	h.mu.Lock()
	delete(h.waiters, w)
	h.mu.Unlock()
}
