package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

// Server runs one http.Server for the lifetime of a context.
type Server struct {
	opts  *options
	log   *slog.Logger
	ready chan struct{}

	mu   sync.Mutex
	srv  *http.Server
	addr string

	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns a Server; it does not listen until Run.
func New(opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := o.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		opts:  o,
		log:   log,
		ready: make(chan struct{}),
		addr:  o.addr,
	}
}

// Ready is closed once Run has bound its listener.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address after Ready, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens and serves handler until ctx is done, then drains in-flight
// requests for at most the shutdown timeout. Request contexts are detached
// from ctx cancellation so a drain is not cut short by the signal that
// started it. A failed drain is logged and returned wrapped in ErrShutdown.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, ErrAlreadyRunning)
	}
	ln, err := net.Listen("tcp", s.opts.addr)
	if err != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       s.opts.readTimeout,
		ReadHeaderTimeout: s.opts.readHeaderTimeout,
		WriteTimeout:      s.opts.writeTimeout,
		IdleTimeout:       s.opts.idleTimeout,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	s.log.InfoContext(ctx, "http server listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Join(ErrServe, err)
	case <-ctx.Done():
	}

	shutdownErr := s.Shutdown(context.WithoutCancel(ctx))
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(ErrServe, err)
	}
	if shutdownErr != nil {
		s.log.Error("http server shutdown failed", slog.Any("error", shutdownErr))
		return shutdownErr
	}
	s.log.Info("http server stopped")
	return nil
}

// Shutdown drains the running server once; later calls return the first result.
// It is a no-op before Run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.shutdownErr = errors.Join(ErrShutdown, err)
		}
	})
	return s.shutdownErr
}
