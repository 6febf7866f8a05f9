package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/internal/control"
	"github.com/yegors/handsfree/internal/storage/sqlite"
	"github.com/yegors/handsfree/internal/websocket"
	"github.com/yegors/handsfree/pkg/logger"
)

// Router builds the HTTP routes for the daemon
type Router struct {
	handler  *Handler
	wsServer *websocket.Server
	metrics  http.Handler
	config   *config.Config
	logger   *logger.Logger
}

// NewRouter creates a router. store, wsServer and metrics may be nil when
// the corresponding feature is disabled.
func NewRouter(ctrl control.Controller, store *sqlite.Store, wsServer *websocket.Server, metrics http.Handler, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler:  NewHandler(ctrl, store, cfg, log),
		wsServer: wsServer,
		metrics:  metrics,
		config:   cfg,
		logger:   log.Named("router"),
	}
}

// Routes returns the configured handler tree
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)

	r.Get("/health", rt.handler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", rt.handler.GetStatus)
		r.Post("/toggle", rt.handler.Toggle)
		r.Post("/start", rt.handler.Start)
		r.Post("/stop", rt.handler.Stop)

		r.Get("/sessions", rt.handler.GetSessions)
		r.Get("/sessions/{id}", rt.handler.GetSession)
		r.Get("/sessions/{id}/transcripts", rt.handler.GetSessionTranscripts)
		r.Get("/transcripts", rt.handler.GetRecentTranscripts)
	})

	if rt.wsServer != nil {
		r.Get("/ws", rt.wsServer.HandleConnection)
	}
	if rt.metrics != nil {
		path := "/metrics"
		if rt.config != nil && rt.config.Metrics.Path != "" {
			path = rt.config.Metrics.Path
		}
		r.Method(http.MethodGet, path, rt.metrics)
	}

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)))
	})
}
