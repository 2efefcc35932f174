package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plfm/plfm/pkg/command"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[string]int{
		"unauthorized":            http.StatusUnauthorized,
		"token_revoked":           http.StatusUnauthorized,
		"forbidden":               http.StatusForbidden,
		"not_found":               http.StatusNotFound,
		"conflict":                http.StatusConflict,
		"idempotency_key_conflict": http.StatusConflict,
		"quota_exceeded":          http.StatusUnprocessableEntity,
		"bad_request":             http.StatusBadRequest,
		"projection_timeout":      http.StatusGatewayTimeout,
		"gateway_timeout":         http.StatusGatewayTimeout,
		"no_eligible_nodes":       http.StatusServiceUnavailable,
		"exec_session_expired":    http.StatusGone,
		"internal_error":          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, httpStatus(code), code)
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/v1/orgs/x", nil)
	r = r.WithContext(context.WithValue(r.Context(), requestIDKey, "req-1"))

	s.writeError(rec, r, fmt.Errorf("org x: %w", types.ErrNotFound))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "not_found", env.Code)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Contains(t, env.Message, "org x")
}

func TestWriteReceiptStatuses(t *testing.T) {
	s := &Server{}

	cases := []struct {
		name    string
		receipt *command.Receipt
		status  int
		outcome string
	}{
		{"applied", &command.Receipt{Kind: "org", EventID: 7}, http.StatusCreated, "applied"},
		{"replayed", &command.Receipt{Kind: "org", EventID: 7, Replayed: true}, http.StatusOK, "replayed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.writeReceipt(rec, tc.receipt)

			assert.Equal(t, tc.status, rec.Code)
			var env receiptEnvelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, tc.outcome, env.Status)
			assert.Equal(t, int64(7), env.EventID)
		})
	}
}

func TestRequestIDMiddlewareEchoes(t *testing.T) {
	s := &Server{}
	var seen string
	h := s.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("x-request-id", "caller-chosen")
	h.ServeHTTP(rec, r)

	assert.Equal(t, "caller-chosen", seen)
	assert.Equal(t, "caller-chosen", rec.Header().Get("x-request-id"))
}

func TestRequestIDMiddlewareGenerates(t *testing.T) {
	s := &Server{}
	h := s.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.NotEmpty(t, rec.Header().Get("x-request-id"))
}

func TestDecodeBodyRejectsGarbage(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader("{broken"))
	var v map[string]string
	_, err := decodeBody(r, &v)
	require.Error(t, err)
	assert.Equal(t, "bad_request", types.ErrorCode(err))
}

func TestDecodeBodyEmptyIsOK(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	var v map[string]string
	body, err := decodeBody(r, &v)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestEventQueryDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/orgs/o/events", nil)
	after, limit, filter := eventQuery(r)
	assert.Zero(t, after)
	assert.Equal(t, defaultEventPageSize, limit)
	assert.Empty(t, filter.EventType)
}

func TestEventQueryParsesFilters(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/orgs/o/events?after_event_id=42&limit=5&event_type=deploy&app_id=a1&env_id=e1", nil)
	after, limit, filter := eventQuery(r)
	assert.Equal(t, int64(42), after)
	assert.Equal(t, 5, limit)
	assert.Equal(t, "deploy", filter.EventType)
	assert.Equal(t, "a1", filter.AppID)
	assert.Equal(t, "e1", filter.EnvID)
}

func TestEventQueryClampsLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=99999", nil)
	_, limit, _ := eventQuery(r)
	assert.Equal(t, defaultEventPageSize, limit)
}

func TestToWireEvent(t *testing.T) {
	now := time.Now().UTC()
	ev := &types.Event{
		EventID:       9,
		AggregateType: types.AggregateDeploy,
		AggregateID:   "d1",
		AggregateSeq:  2,
		EventType:     "deploy.created",
		EventVersion:  1,
		ActorType:     types.ActorUser,
		ActorID:       "u1",
		OrgID:         "o1",
		OccurredAt:    now,
		Payload:       []byte(`{"releaseId":"r1"}`),
	}

	wire := toWireEvent(ev)
	data, err := json.Marshal(wire)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(9), decoded["eventId"])
	assert.Equal(t, "deploy.created", decoded["eventType"])
	payload, ok := decoded["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "r1", payload["releaseId"])
}

func TestHTTPStatusLabel(t *testing.T) {
	assert.Equal(t, "2xx", httpStatusLabel(201))
	assert.Equal(t, "3xx", httpStatusLabel(304))
	assert.Equal(t, "4xx", httpStatusLabel(422))
	assert.Equal(t, "5xx", httpStatusLabel(503))
}
