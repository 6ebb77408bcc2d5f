package services

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conneroisu/rain/internal/config"
	"github.com/conneroisu/rain/internal/logging"
)

// ServeService runs the rain HTTP server.
type ServeService struct {
	config *config.Config
	logger logging.Logger
}

// NewServeService creates a new serve service
func NewServeService(cfg *config.Config, logger logging.Logger) *ServeService {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ServeService{config: cfg, logger: logger}
}

// ServerInfo describes where the server listens.
type ServerInfo struct {
	Host       string
	Port       int
	ServerURL  string
	ReloadURL  string
	Components string
}

// GetServerInfo returns information about the server configuration
func (s *ServeService) GetServerInfo() *ServerInfo {
	base := fmt.Sprintf("http://%s:%d", s.config.Server.Host, s.config.Server.Port)
	return &ServerInfo{
		Host:       s.config.Server.Host,
		Port:       s.config.Server.Port,
		ServerURL:  base,
		ReloadURL:  fmt.Sprintf("ws://%s:%d/_rain/reload", s.config.Server.Host, s.config.Server.Port),
		Components: s.config.Components.Root,
	}
}

// Serve serves until ctx is done or the process is interrupted.
func (s *ServeService) Serve(ctx context.Context) error {
	rt, err := NewRuntime(ctx, s.config, s.logger)
	if err != nil {
		return fmt.Errorf("preparing runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			s.logger.Warn(ctx, closeErr, "Error during runtime shutdown")
		}
	}()

	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := rt.Server()
	if err := rt.Start(serverCtx, srv.Hub().Reload); err != nil {
		return fmt.Errorf("starting runtime: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
		case <-serverCtx.Done():
		}

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Warn(shutdownCtx, shutdownErr, "Error during server shutdown")
		}
		cancel()
	}()

	return srv.Start(serverCtx)
}
