package api

import (
	"net/http"

	"github.com/plfm/plfm/pkg/command"
	"github.com/plfm/plfm/pkg/types"
)

func (s *Server) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var in command.CreateRouteInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.EnvID = pathVar(r, "env")

	receipt, err := s.commands.CreateRoute(r.Context(), s.caller(r, body), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	envID := pathVar(r, "env")
	all, err := s.views.ListRoutes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	routes := make([]*types.Route, 0, len(all))
	for _, rt := range all {
		if rt.EnvID == envID {
			routes = append(routes, rt)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": routes})
}

func (s *Server) handleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	var in command.UpdateRouteInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	receipt, err := s.commands.UpdateRoute(r.Context(), s.caller(r, body), pathVar(r, "route"), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

func (s *Server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.commands.DeleteRoute(r.Context(), s.caller(r, nil), pathVar(r, "route"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}
