package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/plfm/plfm/pkg/auth"
	"github.com/plfm/plfm/pkg/edgesync"
	"github.com/plfm/plfm/pkg/types"
)

// handleEdgeRouting serves the full routing state edges sync from:
// every live route with its ready backends, stamped with the event
// cursor it was derived at.
func (s *Server) handleEdgeRouting(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if p == nil || (p.Role != auth.RoleAdmin && p.Role != auth.RoleNode) {
		s.writeError(w, r, fmt.Errorf("edge routing requires a node or admin token: %w", types.ErrForbidden))
		return
	}

	state, err := edgesync.NewViewSource(s.views, s.events).Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

const maxRouteChangeBatch = 1000

// handleEdgeRoutingEvents tails route changes past a cursor so edges
// can sync incrementally between full snapshots.
func (s *Server) handleEdgeRoutingEvents(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if p == nil || (p.Role != auth.RoleAdmin && p.Role != auth.RoleNode) {
		s.writeError(w, r, fmt.Errorf("edge routing requires a node or admin token: %w", types.ErrForbidden))
		return
	}

	after, _ := strconv.ParseInt(r.URL.Query().Get("after_event_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxRouteChangeBatch {
		limit = maxRouteChangeBatch
	}

	changes, err := edgesync.NewViewSource(s.views, s.events).RouteChanges(r.Context(), after, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": changes})
}
