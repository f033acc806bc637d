// Package server exposes the music API through a small local HTTP proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Options configures the listener.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	opts     Options
	upstream Upstream
	likes    LikeStore
	proxies  ProxyStats
	router   *BasicRouter
}

// New creates a Server and registers its routes.
func New(opts Options, up Upstream, likes LikeStore, proxies ProxyStats) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		opts:     opts,
		upstream: up,
		likes:    likes,
		proxies:  proxies,
		router:   NewBasicRouter(),
	}

	s.router.Use(RequestID, Logging, Recover, CORS)
	s.router.HandleFunc(http.MethodGet, "/api/search", s.handleSearch)
	s.router.HandleFunc(http.MethodGet, "/api/stream", s.handleStream)
	s.router.HandleFunc(http.MethodGet, "/api/liked", s.handleLikedList)
	s.router.HandleFunc(http.MethodPost, "/api/liked", s.handleLike)
	s.router.HandleFunc(http.MethodDelete, "/api/liked", s.handleUnlike)
	s.router.HandleFunc(http.MethodGet, "/api/proxies", s.handleProxies)
	s.router.HandleFunc(http.MethodGet, "/healthz", s.handleHealth)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("Server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
