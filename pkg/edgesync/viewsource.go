package edgesync

import (
	"context"
	"errors"
	"sort"

	"github.com/plfm/plfm/pkg/eventlog"
	"github.com/plfm/plfm/pkg/types"
	"github.com/plfm/plfm/pkg/views"
)

// ViewSource builds routing state straight from the read views. Used
// when the edge runs inside the control plane process.
type ViewSource struct {
	views  *views.Store
	events *eventlog.Store
}

// NewViewSource creates a source over the control plane database
func NewViewSource(vs *views.Store, events *eventlog.Store) *ViewSource {
	return &ViewSource{views: vs, events: events}
}

var routeEventTypes = []string{"route.created", "route.updated", "route.deleted"}

// RouteChanges implements Source by tailing the event log. Each event
// resolves to the route's current view state, so a route created and
// updated in one batch applies as its latest shape.
func (v *ViewSource) RouteChanges(ctx context.Context, afterEventID int64, limit int) ([]RouteChange, error) {
	var events []*types.Event
	for _, et := range routeEventTypes {
		batch, err := v.events.QueryByTypeAfter(ctx, et, afterEventID, limit)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].EventID < events[j].EventID })
	if len(events) > limit {
		events = events[:limit]
	}

	changes := make([]RouteChange, 0, len(events))
	for _, ev := range events {
		change := RouteChange{EventID: ev.EventID, RouteID: ev.AggregateID}
		if ev.EventType == "route.deleted" {
			change.Deleted = true
			changes = append(changes, change)
			continue
		}

		route, err := v.views.GetRoute(ctx, ev.AggregateID)
		if errors.Is(err, types.ErrNotFound) {
			// created or updated, then deleted before we caught up
			change.Deleted = true
			changes = append(changes, change)
			continue
		}
		if err != nil {
			return nil, err
		}
		backends, err := v.views.ReadyBackends(ctx, route.EnvID, route.BackendProcessType, route.BackendPort)
		if err != nil {
			return nil, err
		}
		change.Route = route
		change.Backends = backends
		changes = append(changes, change)
	}
	return changes, nil
}

// Snapshot implements Source
func (v *ViewSource) Snapshot(ctx context.Context) (*State, error) {
	cursor, err := v.events.MaxEventID(ctx)
	if err != nil {
		return nil, err
	}
	routes, err := v.views.ListRoutes(ctx)
	if err != nil {
		return nil, err
	}

	state := &State{Cursor: cursor, Routes: make([]RouteState, 0, len(routes))}
	for _, r := range routes {
		backends, err := v.views.ReadyBackends(ctx, r.EnvID, r.BackendProcessType, r.BackendPort)
		if err != nil {
			return nil, err
		}
		state.Routes = append(state.Routes, RouteState{Route: r, Backends: backends})
	}
	return state, nil
}
