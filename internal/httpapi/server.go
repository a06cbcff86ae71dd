// Package httpapi is the command surface of the bridge. Chat frontends and
// operators drive setup, server actions and pin management through it; the
// background updater owns everything else.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/panelbridge/panelbridge-go/internal/config"
	"github.com/panelbridge/panelbridge-go/internal/observability"
	"github.com/panelbridge/panelbridge-go/internal/session"
	"github.com/panelbridge/panelbridge-go/internal/status"
	"github.com/panelbridge/panelbridge-go/internal/storage"
)

// Server hosts the REST command API.
type Server struct {
	sessions  *session.Manager
	store     *storage.BoltStore
	updater   *status.Updater
	publisher status.Publisher
	snapshots *status.MemoryPublisher // nil unless the memory publisher is in use
	metrics   *observability.Metrics
	logger    *zap.Logger

	srv *http.Server
}

// NewServer wires the API. snapshots may be nil when artifacts go to an
// external surface; the status endpoint then reports that nothing is
// snapshotted locally.
func NewServer(cfg *config.Config, sessions *session.Manager, store *storage.BoltStore, updater *status.Updater, publisher status.Publisher, snapshots *status.MemoryPublisher, metrics *observability.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		sessions:  sessions,
		store:     store,
		updater:   updater,
		publisher: publisher,
		snapshots: snapshots,
		metrics:   metrics,
		logger:    logger,
	}
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1/tenants/{tenant}", func(r chi.Router) {
		r.Post("/setup", s.handleSetup)
		r.Delete("/", s.handleDisconnect)

		r.Group(func(r chi.Router) {
			r.Use(s.ensureSetup)

			r.Get("/servers", s.handleListServers)
			r.Get("/servers/{id}", s.handleGetServer)
			r.Post("/servers/{id}/start", s.handleAction(s.sessions.StartServer))
			r.Post("/servers/{id}/stop", s.handleAction(s.sessions.StopServer))
			r.Post("/servers/{id}/restart", s.handleAction(s.sessions.RestartServer))

			r.Get("/pins", s.handleListPins)
			r.Put("/pins", s.handleAddPin)
			r.Delete("/pins/{id}", s.handleRemovePin)

			r.Put("/status-target", s.handleSetStatusTarget)
			r.Get("/fields", s.handleGetFields)
			r.Put("/fields", s.handleSetFields)
			r.Get("/status", s.handleStatusSnapshot)
		})
	})

	return r
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http api listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// requestLogger logs one line per request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

// ensureSetup backfills the tenant row in single-tenant mode and rejects
// unknown tenants in multi-tenant mode before any panel-facing handler.
func (s *Server) ensureSetup(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant")
		if err := s.sessions.EnsureSetup(r.Context(), tenant); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
