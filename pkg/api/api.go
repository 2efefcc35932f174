package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/plfm/plfm/pkg/auth"
	"github.com/plfm/plfm/pkg/command"
	"github.com/plfm/plfm/pkg/eventlog"
	"github.com/plfm/plfm/pkg/log"
	"github.com/plfm/plfm/pkg/metrics"
	"github.com/plfm/plfm/pkg/plan"
	"github.com/plfm/plfm/pkg/views"
)

type contextKey int

const (
	principalKey contextKey = iota
	requestIDKey
)

// Server is the control plane HTTP surface
type Server struct {
	commands *command.Service
	views    *views.Store
	events   *eventlog.Store
	plans    *plan.Builder
	authn    *auth.Authenticator
	router   *mux.Router

	execPort    int
	enrollToken string
}

// NewServer wires the /v1 router
func NewServer(commands *command.Service, plans *plan.Builder, authn *auth.Authenticator, execPort int, enrollToken string) *Server {
	s := &Server{
		commands:    commands,
		views:       commands.Views(),
		events:      commands.Events(),
		plans:       plans,
		authn:       authn,
		execPort:    execPort,
		enrollToken: enrollToken,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root http handler
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.metricsMiddleware)

	v1 := r.PathPrefix("/v1").Subrouter()

	// Device auth flow runs before the caller has a token
	v1.HandleFunc("/auth/device/start", s.handleDeviceStart).Methods("POST")
	v1.HandleFunc("/auth/device/approve", s.handleDeviceApprove).Methods("POST")
	v1.HandleFunc("/auth/device/token", s.handleDeviceToken).Methods("POST")

	// Node enrollment authenticates with the shared enroll token
	v1.HandleFunc("/nodes/enroll", s.handleNodeEnroll).Methods("POST")

	authed := v1.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)

	authed.HandleFunc("/orgs", s.handleCreateOrg).Methods("POST")
	authed.HandleFunc("/orgs", s.handleListOrgs).Methods("GET")
	authed.HandleFunc("/orgs/{org}", s.handleGetOrg).Methods("GET")
	authed.HandleFunc("/orgs/{org}", s.handleDeleteOrg).Methods("DELETE")

	authed.HandleFunc("/orgs/{org}/apps", s.handleCreateApp).Methods("POST")
	authed.HandleFunc("/orgs/{org}/apps", s.handleListApps).Methods("GET")
	authed.HandleFunc("/orgs/{org}/apps/{app}", s.handleGetApp).Methods("GET")
	authed.HandleFunc("/orgs/{org}/apps/{app}", s.handleDeleteApp).Methods("DELETE")

	authed.HandleFunc("/orgs/{org}/apps/{app}/envs", s.handleCreateEnv).Methods("POST")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs", s.handleListEnvs).Methods("GET")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}", s.handleGetEnv).Methods("GET")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}", s.handleDeleteEnv).Methods("DELETE")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/scale", s.handleScaleEnv).Methods("POST")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/ipv4", s.handleEnableIPv4).Methods("POST")

	authed.HandleFunc("/orgs/{org}/apps/{app}/releases", s.handleCreateRelease).Methods("POST")
	authed.HandleFunc("/orgs/{org}/apps/{app}/releases/{release}", s.handleGetRelease).Methods("GET")

	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/deploys", s.handleCreateDeploy).Methods("POST")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/deploys", s.handleListDeploys).Methods("GET")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/rollbacks", s.handleRollback).Methods("POST")

	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/routes", s.handleCreateRoute).Methods("POST")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/routes", s.handleListRoutes).Methods("GET")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/routes/{route}", s.handleUpdateRoute).Methods("PATCH")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/routes/{route}", s.handleDeleteRoute).Methods("DELETE")

	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/secrets", s.handlePutSecrets).Methods("POST")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/secrets", s.handleGetSecretsMeta).Methods("GET")

	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/volumes", s.handleCreateVolume).Methods("POST")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/volumes", s.handleListVolumes).Methods("GET")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/volumes/{volume}", s.handleDeleteVolume).Methods("DELETE")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/volumes/{volume}/attachments", s.handleAttachVolume).Methods("POST")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/volumes/{volume}/attachments", s.handleListVolumeAttachments).Methods("GET")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/volumes/{volume}/attachments/{attachment}", s.handleDetachVolume).Methods("DELETE")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/volumes/{volume}/snapshots", s.handleCreateSnapshot).Methods("POST")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/volumes/{volume}/snapshots", s.handleListSnapshots).Methods("GET")

	authed.HandleFunc("/orgs/{org}/events", s.handleListEvents).Methods("GET")
	authed.HandleFunc("/orgs/{org}/events/stream", s.handleStreamEvents).Methods("GET")

	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/logs", s.handleQueryLogs).Methods("GET")
	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/logs/stream", s.handleStreamLogs).Methods("GET")

	authed.HandleFunc("/orgs/{org}/apps/{app}/envs/{env}/instances", s.handleListInstances).Methods("GET")
	authed.HandleFunc("/instances/{instance}/exec", s.handleStartExec).Methods("POST")
	authed.HandleFunc("/exec/{session}/attach", s.handleExecAttach).Methods("GET")

	authed.HandleFunc("/edge/routing", s.handleEdgeRouting).Methods("GET")
	authed.HandleFunc("/edge/routing/events", s.handleEdgeRoutingEvents).Methods("GET")

	authed.HandleFunc("/nodes", s.handleListNodes).Methods("GET")
	authed.HandleFunc("/nodes/{node}/heartbeat", s.handleNodeHeartbeat).Methods("POST")
	authed.HandleFunc("/nodes/{node}/plan", s.handleNodePlan).Methods("GET")
	authed.HandleFunc("/nodes/{node}/state", s.handleSetNodeState).Methods("POST")
	authed.HandleFunc("/nodes/{node}/instances/{instance}/status", s.handleInstanceStatus).Methods("POST")

	return r
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("x-request-id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("x-request-id", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE and NDJSON streams keep working
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, httpStatusLabel(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
		logger := log.WithComponent("api")
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		principal, err := s.authn.Authenticate(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey).(*auth.Principal)
	return p
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// caller assembles the command caller for a mutating request. Body is
// the raw payload, kept for idempotency hashing.
func (s *Server) caller(r *http.Request, body []byte) *command.Caller {
	return &command.Caller{
		Principal:      principalFrom(r.Context()),
		RequestID:      requestIDFrom(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Body:           body,
	}
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// pathVar returns one trimmed mux path variable
func pathVar(r *http.Request, name string) string {
	return strings.TrimSpace(mux.Vars(r)[name])
}
