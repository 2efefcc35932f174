package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/plfm/plfm/pkg/types"
)

const logStreamPoll = time.Second

// wireLogLine is the lowerCamelCase log representation
type wireLogLine struct {
	InstanceID string    `json:"instanceId"`
	Stream     string    `json:"stream"`
	Line       string    `json:"line"`
	Truncated  bool      `json:"truncated,omitempty"`
	Timestamp  time.Time `json:"ts"`
}

func toWireLog(l *types.WorkloadLogLine) *wireLogLine {
	return &wireLogLine{
		InstanceID: l.InstanceID,
		Stream:     l.Stream,
		Line:       l.Line,
		Truncated:  l.Truncated,
		Timestamp:  l.Timestamp,
	}
}

func logFilters(r *http.Request) (since time.Time, limit int, processType, instanceID string) {
	q := r.URL.Query()
	if raw := q.Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		}
	}
	limit, _ = strconv.Atoi(q.Get("tail_lines"))
	return since, limit, q.Get("process_type"), q.Get("instance_id")
}

// matchLog applies the optional process/instance filters. Process type
// is resolved through the instance id prefix convention used at
// allocation time, so filtering stays index-free.
func (s *Server) filterLogs(r *http.Request, lines []*types.WorkloadLogLine, processType, instanceID string) []*wireLogLine {
	byProcess := map[string]string{}
	if processType != "" {
		instances, err := s.views.ListInstancesByEnv(r.Context(), pathVar(r, "env"))
		if err == nil {
			for _, inst := range instances {
				byProcess[inst.InstanceID] = inst.ProcessType
			}
		}
	}

	out := make([]*wireLogLine, 0, len(lines))
	for _, l := range lines {
		if instanceID != "" && l.InstanceID != instanceID {
			continue
		}
		if processType != "" && byProcess[l.InstanceID] != processType {
			continue
		}
		out = append(out, toWireLog(l))
	}
	return out
}

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	since, limit, processType, instanceID := logFilters(r)
	lines, err := s.views.QueryLogs(r.Context(), pathVar(r, "env"), since, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": s.filterLogs(r, lines, processType, instanceID),
	})
}

// handleStreamLogs follows an env's logs as server-sent events named
// "log" until the client disconnects.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	since, _, processType, instanceID := logFilters(r)
	if since.IsZero() {
		since = time.Now().UTC()
	}
	envID := pathVar(r, "env")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(logStreamPoll)
	defer ticker.Stop()

	for {
		lines, err := s.views.QueryLogs(r.Context(), envID, since, 0)
		if err != nil {
			return
		}
		for _, wire := range s.filterLogs(r, lines, processType, instanceID) {
			data, err := json.Marshal(wire)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: log\ndata: %s\n\n", data)
		}
		if len(lines) > 0 {
			since = lines[len(lines)-1].Timestamp
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
