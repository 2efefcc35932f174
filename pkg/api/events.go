package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/plfm/plfm/pkg/eventlog"
	"github.com/plfm/plfm/pkg/types"
)

const (
	defaultEventPageSize = 100
	maxEventPageSize     = 1000
	eventStreamPoll      = time.Second
)

// wireEvent is the lowerCamelCase representation of one log entry
type wireEvent struct {
	EventID       int64           `json:"eventId"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	AggregateSeq  int64           `json:"aggregateSeq"`
	EventType     string          `json:"eventType"`
	EventVersion  int32           `json:"eventVersion"`
	ActorType     string          `json:"actorType"`
	ActorID       string          `json:"actorId"`
	OrgID         string          `json:"orgId,omitempty"`
	AppID         string          `json:"appId,omitempty"`
	EnvID         string          `json:"envId,omitempty"`
	RequestID     string          `json:"requestId,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

func toWireEvent(ev *types.Event) *wireEvent {
	return &wireEvent{
		EventID:       ev.EventID,
		AggregateType: string(ev.AggregateType),
		AggregateID:   ev.AggregateID,
		AggregateSeq:  ev.AggregateSeq,
		EventType:     ev.EventType,
		EventVersion:  ev.EventVersion,
		ActorType:     string(ev.ActorType),
		ActorID:       ev.ActorID,
		OrgID:         ev.OrgID,
		AppID:         ev.AppID,
		EnvID:         ev.EnvID,
		RequestID:     ev.RequestID,
		OccurredAt:    ev.OccurredAt,
		Payload:       json.RawMessage(ev.Payload),
	}
}

func eventQuery(r *http.Request) (int64, int, eventlog.OrgFilter) {
	q := r.URL.Query()
	after, _ := strconv.ParseInt(q.Get("after_event_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > maxEventPageSize {
		limit = defaultEventPageSize
	}
	return after, limit, eventlog.OrgFilter{
		EventType: q.Get("event_type"),
		AppID:     q.Get("app_id"),
		EnvID:     q.Get("env_id"),
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	after, limit, filter := eventQuery(r)
	rows, err := s.events.QueryByOrgAfter(r.Context(), pathVar(r, "org"), after, limit, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]*wireEvent, 0, len(rows))
	next := after
	for _, ev := range rows {
		items = append(items, toWireEvent(ev))
		next = ev.EventID
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":             items,
		"nextAfterEventId":  next,
	})
}

// handleStreamEvents tails the org's events as NDJSON until the client
// disconnects.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	after, _, filter := eventQuery(r)
	orgID := pathVar(r, "org")

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	ticker := time.NewTicker(eventStreamPoll)
	defer ticker.Stop()

	for {
		rows, err := s.events.QueryByOrgAfter(r.Context(), orgID, after, maxEventPageSize, filter)
		if err != nil {
			return
		}
		for _, ev := range rows {
			if err := enc.Encode(toWireEvent(ev)); err != nil {
				return
			}
			after = ev.EventID
		}
		if len(rows) > 0 {
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
