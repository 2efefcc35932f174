package edgesync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/plfm/plfm/pkg/ingress"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/types"
)

// RouteState is one route plus its resolved backends as persisted on
// the edge.
type RouteState struct {
	Route    *types.Route `json:"route"`
	Backends []string     `json:"backends"`
}

// State is the edge's durable view of the routing config. Cursor is the
// control plane event id the state was derived at.
type State struct {
	Cursor int64        `json:"cursor"`
	Routes []RouteState `json:"routes"`
}

// RouteChange is one route event resolved to the route's state after
// it. Deletes carry only the id.
type RouteChange struct {
	EventID  int64        `json:"eventId"`
	RouteID  string       `json:"routeId"`
	Deleted  bool         `json:"deleted,omitempty"`
	Route    *types.Route `json:"route,omitempty"`
	Backends []string     `json:"backends,omitempty"`
}

// Source produces routing state. The control plane client implements
// this over HTTP; tests implement it in memory.
type Source interface {
	// Snapshot returns the full routing state. Used on cold start and
	// for the periodic backend resync.
	Snapshot(ctx context.Context) (*State, error)
	// RouteChanges tails route events past a cursor, ascending
	RouteChanges(ctx context.Context, afterEventID int64, limit int) ([]RouteChange, error)
}

const (
	defaultSyncInterval = 5 * time.Second
	routeChangeBatch    = 256

	// backends drift as instances come and go without any route event,
	// so every Nth sync falls back to a full snapshot
	resyncEvery = 12
)

// Syncer keeps an ingress route table in step with a Source and
// persists each applied state so the edge can serve across restarts
// without the control plane. Between full snapshots it tails route
// events and applies them one route at a time.
type Syncer struct {
	source    Source
	table     *ingress.RouteTable
	statePath string
	interval  time.Duration

	cursor int64
	routes map[string]RouteState // by route id
	syncs  int
}

// NewSyncer creates a syncer writing durable state to statePath
func NewSyncer(source Source, table *ingress.RouteTable, statePath string) *Syncer {
	return &Syncer{
		source:    source,
		table:     table,
		statePath: statePath,
		interval:  defaultSyncInterval,
		routes:    make(map[string]RouteState),
	}
}

// Restore loads the persisted state, if any, into the route table.
// Called at startup before the first sync so stale routes beat none.
func (s *Syncer) Restore() error {
	state, err := LoadState(s.statePath)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}
	s.apply(state)
	logger := log.WithComponent("edgesync")
	logger.Info().
		Int64("cursor", state.Cursor).
		Int("routes", len(state.Routes)).
		Msg("restored routing state from disk")
	return nil
}

// Run polls the source until ctx is cancelled
func (s *Syncer) Run(ctx context.Context) {
	logger := log.WithComponent("edgesync")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.SyncOnce(ctx); err != nil {
			logger.Warn().Err(err).Msg("sync failed, serving last known state")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce advances the route table one step: a full snapshot on cold
// start and every resyncEvery-th pass, an incremental route-event tail
// otherwise.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	full := s.cursor == 0 || s.syncs%resyncEvery == 0
	s.syncs++
	if full {
		return s.resync(ctx)
	}

	changes, err := s.source.RouteChanges(ctx, s.cursor, routeChangeBatch)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	for _, c := range changes {
		if c.Deleted {
			delete(s.routes, c.RouteID)
			s.table.Remove(c.RouteID)
		} else {
			s.routes[c.RouteID] = RouteState{Route: c.Route, Backends: c.Backends}
			s.table.Upsert(c.Route, c.Backends)
		}
		if c.EventID > s.cursor {
			s.cursor = c.EventID
		}
	}

	if err := SaveState(s.statePath, s.state()); err != nil {
		return fmt.Errorf("persist routing state: %w", err)
	}
	return nil
}

// resync pulls one snapshot and applies it if the cursor advanced
func (s *Syncer) resync(ctx context.Context) error {
	state, err := s.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	if state.Cursor <= s.cursor && s.cursor != 0 {
		return nil
	}

	s.apply(state)
	if err := SaveState(s.statePath, state); err != nil {
		return fmt.Errorf("persist routing state: %w", err)
	}
	return nil
}

// Cursor returns the event id of the last applied state
func (s *Syncer) Cursor() int64 { return s.cursor }

func (s *Syncer) apply(state *State) {
	routes := make([]*types.Route, 0, len(state.Routes))
	backends := make(map[string][]string, len(state.Routes))
	s.routes = make(map[string]RouteState, len(state.Routes))
	for _, rs := range state.Routes {
		routes = append(routes, rs.Route)
		backends[rs.Route.RouteID] = rs.Backends
		s.routes[rs.Route.RouteID] = rs
	}
	s.table.Replace(routes, backends)
	s.cursor = state.Cursor
}

// state rebuilds the durable snapshot from the applied route set
func (s *Syncer) state() *State {
	state := &State{Cursor: s.cursor, Routes: make([]RouteState, 0, len(s.routes))}
	for _, rs := range s.routes {
		state.Routes = append(state.Routes, rs)
	}
	sort.Slice(state.Routes, func(i, j int) bool {
		return state.Routes[i].Route.RouteID < state.Routes[j].Route.RouteID
	})
	return state
}

// LoadState reads a persisted state file. A missing file is not an
// error; it just means a cold start.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	return &state, nil
}

// SaveState writes the state atomically: temp file in the same
// directory, fsync, rename.
func SaveState(path string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".routes-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
