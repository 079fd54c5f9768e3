// Package gateway exposes the request/response API and the streaming socket
// over HTTP.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
	"teacher-agent/internal/infra/middleware"
	"teacher-agent/internal/usecase"
)

// Deps are the services the gateway serves.
type Deps struct {
	Chat    *usecase.ChatService
	Live    *usecase.LiveService
	Bus     domain.EventBus
	AppName string
	Version string
	// MediaDir is served under MediaURL when both are set.
	MediaDir string
	MediaURL string
	Logger   *slog.Logger
}

// Server is the HTTP/WebSocket front end.
type Server struct {
	cfg       config.ServerConfig
	deps      Deps
	metrics   *Metrics
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr atomic.Value // string
	unsub     func()
}

// NewServer creates a gateway server and starts counting bus events.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 8 << 20
	}
	m := NewMetrics()
	return &Server{
		cfg:     cfg,
		deps:    deps,
		metrics: m,
		logger:  logger.With("component", "gateway"),
		unsub:   m.Subscribe(deps.Bus),
	}
}

// Metrics returns the event counters behind GET /metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler builds the router. ctx bounds background work of the middleware.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	// RealIP trusts forwarding headers, so it is only enabled behind
	// configured proxies.
	if len(s.cfg.RateLimit.TrustedProxies) > 0 {
		r.Use(chimw.RealIP)
	}
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(s.cfg.AllowedOrigins))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metricsHandler(s.metrics, s.gauges))
	r.Get("/ws/{session_id}", s.handleStream)
	if s.deps.MediaDir != "" && s.deps.MediaURL != "" {
		prefix := "/" + strings.Trim(s.deps.MediaURL, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(noListingFS{http.Dir(s.deps.MediaDir)})))
	}

	api := func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Delete("/session/{id}", s.handleDeleteSession)
		r.Get("/sessions", s.handleListSessions)
	}
	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit.Enabled {
			r.Use(middleware.RateLimit(ctx, middleware.RateLimitConfig{
				RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
				Burst:          s.cfg.RateLimit.Burst,
				TrustedProxies: s.cfg.RateLimit.TrustedProxies,
			}))
		}
		api(r)
		r.Route("/api", api)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "Not Found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Detail: "Method Not Allowed"})
	})
	return r
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down within ShutdownGrace.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("gateway started", "addr", s.BoundAddr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway serve: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return s.Stop(context.Background())
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsub != nil {
		s.unsub()
	}
	if s.httpSrv == nil {
		return nil
	}
	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	err := s.httpSrv.Shutdown(shutdownCtx)
	s.logger.Info("gateway stopped")
	return err
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

func (s *Server) gauges() gauges {
	var g gauges
	if s.deps.Chat != nil {
		store := s.deps.Chat.Sessions()
		g.httpSessions = store.Count(domain.NamespaceHTTP)
		g.streamSessions = store.Count(domain.NamespaceStream)
	}
	return g
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// noListingFS hides directory listings of the media directory.
type noListingFS struct{ fs http.FileSystem }

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
