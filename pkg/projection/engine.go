package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/plfm/plfm/pkg/eventlog"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/metrics"
	"github.com/plfm/plfm/pkg/types"
)

// Handler applies consumed events to one read view. Handlers are pure
// functions of (event, transaction handle) and must be idempotent.
type Handler interface {
	Name() string
	EventTypes() []string
	Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error
}

// State classifies a projection's progress
type State string

const (
	StateCurrent State = "current"
	StateLagging State = "lagging"
	StateStalled State = "stalled"
)

const (
	defaultBatchSize    = 200
	defaultPollInterval = 250 * time.Millisecond
	defaultBackoffCap   = 30 * time.Second
	defaultStallWindow  = 2 * time.Minute
)

// Engine drives every registered handler against the event log
type Engine struct {
	store    *eventlog.Store
	hub      *CheckpointHub
	handlers []Handler

	batchSize    int
	pollInterval time.Duration
	backoffCap   time.Duration
	stallWindow  time.Duration

	mu          sync.Mutex
	lastAdvance map[string]time.Time
}

// NewEngine creates an engine over the event store
func NewEngine(store *eventlog.Store, hub *CheckpointHub, handlers ...Handler) *Engine {
	return &Engine{
		store:        store,
		hub:          hub,
		handlers:     handlers,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		backoffCap:   defaultBackoffCap,
		stallWindow:  defaultStallWindow,
		lastAdvance:  make(map[string]time.Time),
	}
}

// Hub returns the checkpoint hub used for RYW waits
func (e *Engine) Hub() *CheckpointHub { return e.hub }

// Run starts one loop per handler and blocks until ctx is cancelled
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, h := range e.handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			e.runHandler(ctx, h)
		}(h)
	}
	wg.Wait()
}

// runHandler is the per-projection loop: load checkpoint, pull the next
// batch, apply consumed events and advance the checkpoint in one
// transaction, retry with backoff on failure.
func (e *Engine) runHandler(ctx context.Context, h Handler) {
	logger := log.WithComponent("projection").With().Str("projection", h.Name()).Logger()

	checkpoint, err := e.loadCheckpoint(ctx, h.Name())
	if err != nil {
		logger.Error().Err(err).Msg("load checkpoint")
		return
	}
	e.hub.Advance(h.Name(), checkpoint)
	e.touch(h.Name())

	consumed := make(map[string]bool, len(h.EventTypes()))
	for _, t := range h.EventTypes() {
		consumed[t] = true
	}

	backoff := e.pollInterval
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		applied, last, err := e.applyBatch(ctx, h, consumed, checkpoint)
		if err != nil {
			logger.Error().Err(err).Int64("checkpoint", checkpoint).Msg("batch failed, backing off")
			metrics.ProjectionErrors.WithLabelValues(h.Name()).Inc()
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > e.backoffCap {
				backoff = e.backoffCap
				metrics.ProjectionStalled.WithLabelValues(h.Name()).Set(1)
			}
			continue
		}

		backoff = e.pollInterval
		metrics.ProjectionStalled.WithLabelValues(h.Name()).Set(0)

		if last > checkpoint {
			checkpoint = last
			e.hub.Advance(h.Name(), checkpoint)
			e.touch(h.Name())
			metrics.ProjectionCheckpoint.WithLabelValues(h.Name()).Set(float64(checkpoint))
			if applied > 0 {
				logger.Debug().Int("applied", applied).Int64("checkpoint", checkpoint).Msg("advanced")
			}
			continue
		}

		if !sleepCtx(ctx, e.pollInterval) {
			return
		}
	}
}

// applyBatch processes up to batchSize events after checkpoint inside
// one transaction. Events outside the consumed set advance the
// checkpoint without invoking the handler.
func (e *Engine) applyBatch(ctx context.Context, h Handler, consumed map[string]bool, checkpoint int64) (int, int64, error) {
	events, err := e.store.QueryAfter(ctx, checkpoint, e.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("query after: %w", err)
	}
	if len(events) == 0 {
		return 0, checkpoint, nil
	}

	tx, err := e.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	applied := 0
	for _, ev := range events {
		if !consumed[ev.EventType] {
			continue
		}
		if err := h.Apply(ctx, tx, ev); err != nil {
			return 0, 0, fmt.Errorf("apply event %d (%s): %w", ev.EventID, ev.EventType, err)
		}
		applied++
	}

	last := events[len(events)-1].EventID
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projection_checkpoints (name, last_event_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_event_id = EXCLUDED.last_event_id, updated_at = now()
		WHERE projection_checkpoints.last_event_id < EXCLUDED.last_event_id`,
		h.Name(), last); err != nil {
		return 0, 0, fmt.Errorf("advance checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit batch: %w", err)
	}
	return applied, last, nil
}

func (e *Engine) loadCheckpoint(ctx context.Context, name string) (int64, error) {
	var id int64
	err := e.store.DB().QueryRowContext(ctx,
		`SELECT last_event_id FROM projection_checkpoints WHERE name = $1`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// Status reports the state of one projection against the global max id
func (e *Engine) Status(ctx context.Context, name string) (State, error) {
	max, err := e.store.MaxEventID(ctx)
	if err != nil {
		return "", err
	}
	mark := e.hub.Checkpoint(name)
	if mark >= max {
		return StateCurrent, nil
	}

	e.mu.Lock()
	last := e.lastAdvance[name]
	e.mu.Unlock()
	if time.Since(last) > e.stallWindow {
		return StateStalled, nil
	}
	return StateLagging, nil
}

func (e *Engine) touch(name string) {
	e.mu.Lock()
	e.lastAdvance[name] = time.Now()
	e.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
