package api

import (
	"net/http"
	"time"
)

type deviceStartResponse struct {
	DeviceCode string    `json:"deviceCode"`
	UserCode   string    `json:"userCode"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (s *Server) handleDeviceStart(w http.ResponseWriter, r *http.Request) {
	authz, err := s.authn.StartDeviceAuth(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &deviceStartResponse{
		DeviceCode: authz.DeviceCode,
		UserCode:   authz.UserCode,
		ExpiresAt:  authz.ExpiresAt,
	})
}

type deviceApproveRequest struct {
	UserCode   string `json:"userCode"`
	ApproverID string `json:"approverId"`
}

func (s *Server) handleDeviceApprove(w http.ResponseWriter, r *http.Request) {
	var in deviceApproveRequest
	if _, err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authn.ApproveDeviceAuth(r.Context(), in.UserCode, in.ApproverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

type deviceTokenRequest struct {
	DeviceCode string `json:"deviceCode"`
	OrgID      string `json:"orgId"`
}

type deviceTokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

func (s *Server) handleDeviceToken(w http.ResponseWriter, r *http.Request) {
	var in deviceTokenRequest
	if _, err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	token, err := s.authn.PollDeviceAuth(r.Context(), in.DeviceCode, in.OrgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &deviceTokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64((30 * 24 * time.Hour).Seconds()),
	})
}
