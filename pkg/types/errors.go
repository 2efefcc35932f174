package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kinds every layer agrees on. Command handlers
// translate anything else into one of these before it leaves the process.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not_found")
	ErrConflict               = errors.New("conflict")
	ErrSequenceConflict       = errors.New("sequence_conflict")
	ErrIdempotencyKeyConflict = errors.New("idempotency_key_conflict")
	ErrQuotaExceeded          = errors.New("quota_exceeded")
	ErrBadRequest             = errors.New("bad_request")
	ErrProjectionTimeout      = errors.New("projection_timeout")
	ErrGatewayTimeout         = errors.New("gateway_timeout")
	ErrInternal               = errors.New("internal_error")

	ErrIPv4PoolExhausted  = errors.New("ipv4_pool_exhausted")
	ErrNoEligibleNodes    = errors.New("no_eligible_nodes")
	ErrExecSessionExpired = errors.New("exec_session_expired")
	ErrTokenRevoked       = errors.New("token_revoked")
)

// QuotaError carries the dimension detail alongside ErrQuotaExceeded
type QuotaError struct {
	Dimension      string `json:"dimension"`
	Limit          int64  `json:"limit"`
	CurrentUsage   int64  `json:"currentUsage"`
	RequestedDelta int64  `json:"requestedDelta"`
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota_exceeded: %s limit=%d usage=%d delta=%d",
		e.Dimension, e.Limit, e.CurrentUsage, e.RequestedDelta)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// ErrorCode maps an error to its wire code string
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIdempotencyKeyConflict):
		return "idempotency_key_conflict"
	case errors.Is(err, ErrSequenceConflict), errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrProjectionTimeout):
		return "projection_timeout"
	case errors.Is(err, ErrGatewayTimeout):
		return "gateway_timeout"
	case errors.Is(err, ErrIPv4PoolExhausted):
		return "ipv4_pool_exhausted"
	case errors.Is(err, ErrNoEligibleNodes):
		return "no_eligible_nodes"
	case errors.Is(err, ErrExecSessionExpired):
		return "exec_session_expired"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	default:
		return "internal_error"
	}
}
