// Package server provides HTTP server initialization and lifecycle
// management for the docmem API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/docmem/internal/config"
	"github.com/scrypster/docmem/web/handlers"
)

// Options carries the collaborators the server routes to.
type Options struct {
	Coordinator handlers.Coordinator

	// Sweeper is reported by /healthz. Optional.
	Sweeper handlers.SweepHealth

	Version string
	Logger  *slog.Logger
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Running is a started server.
type Running struct {
	// Addr is the address actually listened on (useful with port 0).
	Addr string

	// Hub receives mutation events for the stream.
	Hub *handlers.WebSocketHub

	done chan struct{}
}

// Done is closed once shutdown has finished.
func (r *Running) Done() <-chan struct{} {
	return r.done
}

// Start listens on the configured address and serves until ctx is
// canceled.
func Start(ctx context.Context, cfg *config.Config, opts Options) (*Running, error) {
	if opts.Coordinator == nil {
		return nil, errors.New("server: coordinator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	wsHub := handlers.NewWebSocketHub(logger,
		fmt.Sprintf("localhost:%d", cfg.Server.Port),
		fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
	)
	go wsHub.Run()

	apiMux := http.NewServeMux()
	handlers.NewAPIHandlers(opts.Coordinator, logger).Register(apiMux)
	apiMux.Handle("GET /v1/stream", wsHub)

	var api http.Handler = apiMux
	if cfg.Security.RateLimit > 0 {
		api = handlers.RateLimitMiddleware(api, handlers.NewRateLimiter(cfg.Security.RateLimit, cfg.Security.RateBurst))
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", handlers.RequireAuth(api, cfg))
	mux.Handle("GET /healthz", handlers.NewHealthHandler(opts.Version, cfg.Storage.StorageEngine, opts.Sweeper))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           securityHeadersMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		wsHub.Stop()
		return nil, fmt.Errorf("listen on %s: %w", server.Addr, err)
	}
	running := &Running{Addr: listener.Addr().String(), Hub: wsHub, done: make(chan struct{})}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	go func() {
		defer close(running.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
		wsHub.Stop()
	}()

	logger.Info("server listening", "addr", running.Addr, "security_mode", cfg.Security.SecurityMode)
	return running, nil
}
