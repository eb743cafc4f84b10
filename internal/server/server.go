// Package server assembles the HTTP stack around the todo handlers and runs
// it until its context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Paul-frank/bluegreen-todo-api/internal/config"
	"github.com/Paul-frank/bluegreen-todo-api/internal/database"
	todohandlers "github.com/Paul-frank/bluegreen-todo-api/internal/handlers"
)

// Server is the API server.
type Server struct {
	cfg     config.Config
	store   database.Store
	logger  *log.Logger
	handler http.Handler
}

// New builds the middleware chain and routes for cfg on top of store.
func New(cfg config.Config, store database.Store, logger *log.Logger, opts ...todohandlers.Option) *Server {
	h := todohandlers.New(store, cfg.AppVersion, logger, opts...)
	limiter := NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax, logger, "/health")

	mws := []Middleware{
		recovery(logger),
		requestLog(logger),
		securityHeaders(),
		cors(),
		limiter.Middleware,
		bodyLimit(cfg.BodyLimit),
	}
	if cfg.TrustProxy {
		mws = append([]Middleware{proxyHeaders}, mws...)
	}

	return &Server{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		handler: chain(todohandlers.NewRouter(h), mws...),
	}
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then drains in-flight
// requests for up to the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          s.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.WarnLevel}),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			"addr", ln.Addr().String(),
			"version", s.cfg.AppVersion,
			"driver", s.store.Driver(),
		)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
