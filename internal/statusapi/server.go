// Package statusapi serves the local HTTP status surface of a running agent:
// health, Prometheus metrics, per-user stats and history read from the
// ledger, the sync backlog, and a manual sync trigger.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bft-labs/casesync/internal/app"
	"github.com/bft-labs/casesync/internal/domain"
	"github.com/bft-labs/casesync/internal/ports"
)

// Ledger is the read side of the ledger the API needs.
type Ledger interface {
	ports.StatsReader
	Counts(ctx context.Context, maxAttempts int) (map[domain.Kind]domain.StatusCounts, error)
}

// Syncer is the coordinator surface the API needs. *app.Coordinator
// satisfies it.
type Syncer interface {
	Request()
	Online() bool
	Syncing() bool
	LastPass() (app.PassResult, bool)
	RetryPolicy() app.RetryPolicy
}

// Server is the status API.
type Server struct {
	ledger  Ledger
	syncer  Syncer
	metrics http.Handler
	logger  ports.Logger
	router  chi.Router
}

// New builds the router. metrics may be nil, in which case /metrics is
// not served.
func New(ledger Ledger, syncer Syncer, metrics http.Handler, logger ports.Logger) *Server {
	s := &Server{
		ledger:  ledger,
		syncer:  syncer,
		metrics: metrics,
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/users/{username}", func(r chi.Router) {
			r.Get("/stats", s.userStats)
			r.Get("/history", s.sessionHistory)
		})
		r.Get("/sync/status", s.syncStatus)
		r.Post("/sync", s.requestSync)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("status API listening", ports.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": s.syncer.Online(),
	})
}

func (s *Server) userStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.UserStats(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.ledger.SessionHistory(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// SyncStatus is the body of GET /v1/sync/status.
type SyncStatus struct {
	Online   bool                                `json:"online"`
	Syncing  bool                                `json:"syncing"`
	Retry    app.RetryPolicy                     `json:"retry"`
	Records  map[domain.Kind]domain.StatusCounts `json:"records"`
	LastPass *app.PassResult                     `json:"last_pass,omitempty"`
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	policy := s.syncer.RetryPolicy()
	counts, err := s.ledger.Counts(r.Context(), policy.MaxAttempts)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	status := SyncStatus{
		Online:  s.syncer.Online(),
		Syncing: s.syncer.Syncing(),
		Retry:   policy,
		Records: counts,
	}
	if last, ok := s.syncer.LastPass(); ok {
		status.LastPass = &last
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) requestSync(w http.ResponseWriter, _ *http.Request) {
	if !s.syncer.Online() {
		writeError(w, http.StatusServiceUnavailable, "remote store unreachable")
		return
	}
	s.syncer.Request()
	writeJSON(w, http.StatusAccepted, map[string]bool{"requested": true})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("status API request failed",
		ports.String("path", r.URL.Path),
		ports.String("request_id", middleware.GetReqID(r.Context())),
		ports.Err(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("status API request",
			ports.String("method", r.Method),
			ports.String("path", r.URL.Path),
			ports.Int("status", ww.Status()),
			ports.Duration("duration", time.Since(start)),
			ports.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
