package api

import (
	"net/http"
	"strconv"

	"github.com/plfm/plfm/pkg/command"
)

func (s *Server) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	var in command.CreateReleaseInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.AppID = pathVar(r, "app")

	receipt, err := s.commands.CreateRelease(r.Context(), s.caller(r, body), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt, nextAction{Label: "deploy it", Cmd: "plfm deploys create"})
}

func (s *Server) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	release, err := s.views.GetRelease(r.Context(), pathVar(r, "release"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, release)
}

func (s *Server) handleCreateDeploy(w http.ResponseWriter, r *http.Request) {
	var in command.CreateDeployInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.EnvID = pathVar(r, "env")

	receipt, err := s.commands.CreateDeploy(r.Context(), s.caller(r, body), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt, nextAction{Label: "watch rollout", Cmd: "plfm deploys list"})
}

func (s *Server) handleListDeploys(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	deploys, err := s.views.ListDeploys(r.Context(), pathVar(r, "env"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": deploys})
}

// handleRollback is a deploy targeting the previous succeeded release
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.commands.Rollback(r.Context(), s.caller(r, nil), pathVar(r, "env"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt, nextAction{Label: "watch rollout", Cmd: "plfm deploys list"})
}
