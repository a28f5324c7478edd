package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"omnireel/internal/cache"
	"omnireel/internal/capability"
	"omnireel/internal/jobs"
	"omnireel/internal/ledger"
	"omnireel/internal/logging"
	"omnireel/internal/workflow"
)

const (
	defaultListLimit   = 100
	defaultLedgerLimit = 500
)

// JobReader reads persisted jobs.
type JobReader interface {
	List(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

// LedgerReader queries the job ledger.
type LedgerReader interface {
	Query(ctx context.Context, filter ledger.Filter) ([]ledger.Record, error)
}

// StatusReporter reports workflow state. *workflow.Manager satisfies it.
type StatusReporter interface {
	Status(ctx context.Context) workflow.StatusSummary
}

// ProviderReporter reports provider health. *capability.Registry satisfies it.
type ProviderReporter interface {
	Snapshot() []capability.ProviderState
	Capabilities() []string
	Providers(capability string) []string
}

// CacheReporter reports cache counters. *cache.Cache satisfies it.
type CacheReporter interface {
	Stats() cache.Stats
}

// Deps are the read models behind the API. Nil members produce empty
// responses.
type Deps struct {
	Jobs      JobReader
	Ledger    LedgerReader
	Workflow  StatusReporter
	Providers ProviderReporter
	Cache     CacheReporter
}

// Server is the reporting HTTP listener.
type Server struct {
	bind   string
	token  string
	deps   Deps
	logger *slog.Logger
	router *mux.Router

	listener net.Listener
	server   *http.Server
}

// NewServer builds the router. An empty bind disables Start.
func NewServer(bind, token string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:   strings.TrimSpace(bind),
		token:  strings.TrimSpace(token),
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "api-server"),
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.authMiddleware)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", s.handleJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/ledger", s.handleJobLedger).Methods(http.MethodGet)
	v1.HandleFunc("/ledger", s.handleLedger).Methods(http.MethodGet)
	v1.HandleFunc("/providers", s.handleProviders).Methods(http.MethodGet)
	v1.HandleFunc("/cache", s.handleCache).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on the configured address and serves until ctx ends or Stop
// is called.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "api_serve_failed"),
				logging.String(logging.FieldErrorHint, "check api.bind"),
			)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)
	return nil
}

// Stop shuts the listener down.
func (s *Server) Stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

// authMiddleware validates bearer tokens. With no token configured every
// request passes through.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.token {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := Health{Status: "ok"}
	if s.deps.Workflow != nil {
		payload.Workflow = FromStatusSummary(s.deps.Workflow.Status(r.Context()))
		for _, h := range payload.Workflow.StageHealth {
			if !h.Ready {
				payload.Status = "degraded"
			}
		}
		if !payload.Workflow.Running {
			payload.Status = "stopped"
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		s.writeJSON(w, http.StatusOK, JobListResponse{Jobs: []Job{}})
		return
	}
	query := r.URL.Query()
	filter := jobs.Filter{Limit: defaultListLimit, IncludeArchived: truthy(query.Get("archived"))}
	for _, value := range query["status"] {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := jobs.ParseStatus(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if limit, ok, err := intParam(query.Get("limit")); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	} else if ok {
		filter.Limit = limit
	}

	list, err := s.deps.Jobs.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, JobListResponse{Jobs: FromJobs(list)})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, JobResponse{Job: FromJob(job)})
}

func (s *Server) handleJobLedger(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	filter, err := ledgerFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.JobID = job.ID
	s.queryLedger(w, r, filter)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	filter, err := ledgerFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.queryLedger(w, r, filter)
}

func (s *Server) queryLedger(w http.ResponseWriter, r *http.Request, filter ledger.Filter) {
	if s.deps.Ledger == nil {
		s.writeJSON(w, http.StatusOK, LedgerResponse{Records: []LedgerRecord{}})
		return
	}
	records, err := s.deps.Ledger.Query(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, LedgerResponse{Records: FromLedger(records)})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	resp := ProvidersResponse{Providers: []capability.ProviderState{}, Capabilities: map[string][]string{}}
	if p := s.deps.Providers; p != nil {
		resp.Providers = p.Snapshot()
		for _, name := range p.Capabilities() {
			resp.Capabilities[name] = p.Providers(name)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCache(w http.ResponseWriter, _ *http.Request) {
	var resp CacheResponse
	if s.deps.Cache != nil {
		resp.Cache = s.deps.Cache.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	if s.deps.Jobs == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	id := strings.TrimSpace(mux.Vars(r)["id"])
	job, err := s.deps.Jobs.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return job, true
}

func ledgerFilter(r *http.Request) (ledger.Filter, error) {
	query := r.URL.Query()
	filter := ledger.Filter{
		JobID:    strings.TrimSpace(query.Get("job")),
		Kind:     ledger.Kind(strings.TrimSpace(query.Get("kind"))),
		Stage:    strings.TrimSpace(query.Get("stage")),
		Provider: strings.TrimSpace(query.Get("provider")),
		Limit:    defaultLedgerLimit,
	}
	var err error
	if filter.Since, err = timeParam(query.Get("since")); err != nil {
		return filter, fmt.Errorf("invalid since: %w", err)
	}
	if filter.Until, err = timeParam(query.Get("until")); err != nil {
		return filter, fmt.Errorf("invalid until: %w", err)
	}
	limit, ok, err := intParam(query.Get("limit"))
	if err != nil {
		return filter, errors.New("invalid limit")
	}
	if ok {
		filter.Limit = limit
	}
	return filter, nil
}

func timeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func intParam(raw string) (int, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false, fmt.Errorf("invalid integer %q", raw)
	}
	return v, true, nil
}

func truthy(raw string) bool {
	return raw == "1" || strings.EqualFold(raw, "true")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
