package api

import (
	"net/http"

	"github.com/plfm/plfm/pkg/command"
)

func (s *Server) handlePutSecrets(w http.ResponseWriter, r *http.Request) {
	var in command.PutSecretsInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.EnvID = pathVar(r, "env")

	receipt, err := s.commands.PutSecrets(r.Context(), s.caller(r, body), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

// handleGetSecretsMeta returns version metadata only. Values never
// leave the control plane through this surface.
func (s *Server) handleGetSecretsMeta(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.views.LatestSecretVersion(r.Context(), pathVar(r, "env"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"versionId":   bundle.VersionID,
		"contentHash": bundle.ContentHash,
		"createdAt":   bundle.CreatedAt,
	})
}
