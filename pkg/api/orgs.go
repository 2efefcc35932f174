package api

import (
	"net/http"

	"github.com/plfm/plfm/pkg/command"
)

func (s *Server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	var in command.CreateOrgInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	receipt, err := s.commands.CreateOrg(r.Context(), s.caller(r, body), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt, nextAction{Label: "create an app", Cmd: "plfm apps create"})
}

func (s *Server) handleListOrgs(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.views.ListOrgs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": orgs})
}

func (s *Server) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	org, err := s.views.GetOrg(r.Context(), pathVar(r, "org"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, org)
}

func (s *Server) handleDeleteOrg(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.commands.DeleteOrg(r.Context(), s.caller(r, nil), pathVar(r, "org"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var in command.CreateAppInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.OrgID = pathVar(r, "org")

	receipt, err := s.commands.CreateApp(r.Context(), s.caller(r, body), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt, nextAction{Label: "create an environment", Cmd: "plfm envs create"})
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.views.ListApps(r.Context(), pathVar(r, "org"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": apps})
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.views.GetApp(r.Context(), pathVar(r, "app"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.commands.DeleteApp(r.Context(), s.caller(r, nil), pathVar(r, "app"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

func (s *Server) handleCreateEnv(w http.ResponseWriter, r *http.Request) {
	var in command.CreateEnvInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.AppID = pathVar(r, "app")

	receipt, err := s.commands.CreateEnv(r.Context(), s.caller(r, body), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt, nextAction{Label: "deploy a release", Cmd: "plfm deploys create"})
}

func (s *Server) handleListEnvs(w http.ResponseWriter, r *http.Request) {
	envs, err := s.views.ListEnvs(r.Context(), pathVar(r, "app"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": envs})
}

func (s *Server) handleGetEnv(w http.ResponseWriter, r *http.Request) {
	env, err := s.views.GetEnv(r.Context(), pathVar(r, "env"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleDeleteEnv(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.commands.DeleteEnv(r.Context(), s.caller(r, nil), pathVar(r, "env"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

func (s *Server) handleScaleEnv(w http.ResponseWriter, r *http.Request) {
	var in command.ScaleEnvInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	receipt, err := s.commands.ScaleEnv(r.Context(), s.caller(r, body), pathVar(r, "env"), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

func (s *Server) handleEnableIPv4(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.commands.EnableIPv4(r.Context(), s.caller(r, nil), pathVar(r, "env"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.views.ListInstancesByEnv(r.Context(), pathVar(r, "env"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": instances})
}
