package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/plfm/plfm/pkg/command"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/types"
)

// maxBodyBytes caps mutation payloads; secret bundles dominate sizing
const maxBodyBytes = 1 << 20

// errorEnvelope is the uniform error shape
type errorEnvelope struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// nextAction hints the client's follow-up command
type nextAction struct {
	Label string `json:"label"`
	Cmd   string `json:"cmd"`
}

// receiptEnvelope wraps a mutation result for the wire
type receiptEnvelope struct {
	Kind     string            `json:"kind"`
	Status   string            `json:"status"`
	IDs      map[string]string `json:"ids"`
	EventID  int64             `json:"eventId"`
	Replayed bool              `json:"replayed,omitempty"`
	Next     []nextAction      `json:"next,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := types.ErrorCode(err)
	s.writeJSON(w, httpStatus(code), &errorEnvelope{
		Code:      code,
		Message:   err.Error(),
		RequestID: requestIDFrom(r.Context()),
	})
}

// writeReceipt emits the receipt envelope
func (s *Server) writeReceipt(w http.ResponseWriter, receipt *command.Receipt, next ...nextAction) {
	status := http.StatusCreated
	outcome := "applied"
	if receipt.Replayed {
		status = http.StatusOK
		outcome = "replayed"
	}
	if receipt.Status != 0 {
		status = receipt.Status
	}

	s.writeJSON(w, status, &receiptEnvelope{
		Kind:     receipt.Kind,
		Status:   outcome,
		IDs:      receipt.IDs,
		EventID:  receipt.EventID,
		Replayed: receipt.Replayed,
		Next:     next,
	})
}

// decodeBody reads and decodes a JSON body, returning the raw bytes
// for idempotency hashing.
func decodeBody(r *http.Request, v interface{}) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, fmt.Errorf("decode request: %v: %w", err, types.ErrBadRequest)
	}
	return body, nil
}

func httpStatus(code string) int {
	switch code {
	case "unauthorized", "token_revoked":
		return http.StatusUnauthorized
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "conflict", "idempotency_key_conflict":
		return http.StatusConflict
	case "quota_exceeded":
		return http.StatusUnprocessableEntity
	case "bad_request":
		return http.StatusBadRequest
	case "projection_timeout", "gateway_timeout":
		return http.StatusGatewayTimeout
	case "no_eligible_nodes", "ipv4_pool_exhausted":
		return http.StatusServiceUnavailable
	case "exec_session_expired":
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
