// Package server wires the dealsync HTTP API: storage, handlers and middleware.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/iudanet/dealsync/internal/config"
	"github.com/iudanet/dealsync/internal/server/handlers"
	"github.com/iudanet/dealsync/internal/server/jwt"
	"github.com/iudanet/dealsync/internal/server/middleware"
	"github.com/iudanet/dealsync/internal/server/storage"
)

const healthPath = "/api/v1/health"

// Store is the persistence the API needs. *sqlite.Storage implements it.
type Store interface {
	storage.DealStorage
	storage.ResourceStorage
	handlers.Pinger
}

// Server is the dealsync HTTP API.
type Server struct {
	logger  *slog.Logger
	limiter *middleware.RateLimiter
	handler http.Handler
	cfg     config.ServerConfig
}

// New builds the API over store. A JWT secret is required: without it no
// issued token could be validated.
func New(cfg config.ServerConfig, store Store, logger *slog.Logger, version string) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("server.jwt_secret is required")
	}
	if cfg.AuthSecret == "" {
		logger.Warn("server.auth_secret is empty, token issuing is disabled")
	}

	tokens := jwt.NewService(cfg.JWTSecret, cfg.TokenTTL, nil)

	health := handlers.NewHealthHandler(logger, store, version)
	token := handlers.NewTokenHandler(logger, tokens, cfg.AuthSecret)
	deals := handlers.NewDealHandler(logger, store)
	resources := handlers.NewResourceHandler(logger, store)

	auth := middleware.AuthMiddleware(logger, tokens)
	authed := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, health.Health)
	mux.HandleFunc("POST /api/v1/auth/token", token.Issue)

	mux.Handle("POST /api/v1/deals", authed(deals.Create))
	mux.Handle("GET /api/v1/deals/{id}", authed(deals.Get))
	mux.Handle("PUT /api/v1/deals/{id}", authed(deals.Update))
	mux.Handle("DELETE /api/v1/deals/{id}", authed(deals.Delete))
	mux.Handle("POST /api/v1/deals/{id}/stage", authed(deals.MoveStage))

	mux.Handle("GET /api/v1/resources/{key...}", authed(resources.Fetch))
	mux.Handle("PUT /api/v1/resources/{key...}", authed(resources.Push))

	s := &Server{
		logger: logger,
		cfg:    cfg,
	}

	chain := []func(http.Handler) http.Handler{
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger, healthPath),
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, time.Minute, nil)
		chain = append(chain, middleware.RateLimitMiddleware(s.limiter, logger))
	}
	s.handler = middleware.Chain(mux, chain...)

	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on cfg.Addr until ctx is cancelled and then shuts down,
// waiting up to ShutdownTimeout for requests in flight.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Close releases background resources. Safe to call more than once.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
