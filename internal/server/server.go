// Package server serves rendered component views over HTTP.
//
// Every request below a component's url renders one view tree: html
// requests get a full document, json and msgpack requests get the rendered
// content with its dependencies and identity. A websocket endpoint pushes
// reload notices to browsers when templates change on disk.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/rain/internal/component"
	"github.com/conneroisu/rain/internal/config"
	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/logging"
	"github.com/conneroisu/rain/internal/renderer"
	"github.com/conneroisu/rain/internal/resource"
	"github.com/conneroisu/rain/internal/session"
)

// ReloadPath is where browsers subscribe to reload notices.
const ReloadPath = "/_rain/reload"

// Deps are the collaborators a Server renders with.
type Deps struct {
	Config     *config.Config
	Components *component.Container
	Resources  *resource.Manager
	Sessions   *session.Store
	Env        *renderer.Env
	Logger     logging.Logger
}

// Server is the rain HTTP front end.
type Server struct {
	cfg        *config.Config
	components *component.Container
	resources  *resource.Manager
	sessions   *session.Store
	env        *renderer.Env
	logger     logging.Logger
	errors     *errors.ErrorHandler
	hub        *Hub

	serverMutex  sync.Mutex
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New creates a server. Nothing listens until Start.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithComponent("server")

	port := d.Config.Server.Port
	allowed := []string{
		fmt.Sprintf("%s:%d", d.Config.Server.Host, port),
		fmt.Sprintf("localhost:%d", port),
		fmt.Sprintf("127.0.0.1:%d", port),
	}

	return &Server{
		cfg:        d.Config,
		components: d.Components,
		resources:  d.Resources,
		sessions:   d.Sessions,
		env:        d.Env,
		logger:     logger,
		errors:     errors.NewErrorHandler(logger),
		hub:        NewHub(allowed, logger),
	}
}

// Hub returns the reload hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed and logged handler of s.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/components", s.handleComponents)
	mux.HandleFunc(ReloadPath, s.hub.ServeWS)
	mux.HandleFunc("/", s.handleView)

	return s.addMiddleware(mux)
}

// Start runs the reload hub and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Serving components", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for running ones.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		s.serverMutex.Lock()
		server := s.httpServer
		s.serverMutex.Unlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}

// statusRecorder remembers the status code a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack hands the connection to the reload websocket.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.hub.allowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(rec, r)
		s.logger.Info(r.Context(), "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
