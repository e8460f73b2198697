package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

var (
	ErrServerListening = errors.New("httpx: server already listening")
	ErrServerClosed    = errors.New("httpx: server closed")
)

// Validator runs before route handlers; return an error to stop the pipeline.
type Validator func(Context) error

// Server binds an App to a TCP listener. The listener is created by Listen so
// that an address with port 0 resolves to a real ephemeral port before any
// caller asks for it.
type Server struct {
	app          *App
	address      string
	readTimeout  time.Duration
	writeTimeout time.Duration
	shutdown     time.Duration
	log          logrus.FieldLogger

	mu     sync.Mutex
	srv    *http.Server
	ln     net.Listener
	done   chan error
	closed bool
}

type RouteRegistrar func(*App)

type StartOption func(*Server)

func WithShutdownTimeout(d time.Duration) StartOption {
	return func(s *Server) {
		if d > 0 {
			s.shutdown = d
		}
	}
}

func NewServer(opts ...ServerOption) *Server {
	cfg := defaultServerOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	a := New()
	a.SetErrorHandler(defaultHTTPErrorHandler)
	middlewares := append([]MiddlewareFunc{RecoverMiddleware(), RequestLoggerMiddleware(cfg.Logger)}, cfg.Middlewares...)
	for _, mw := range middlewares {
		a.Use(mw)
	}
	if cfg.CORS != nil {
		a.Use(CORSMiddleware(cfg.CORS))
	}
	if len(cfg.Validators) > 0 {
		a.Use(validatorMiddleware(cfg.Validators...))
	}

	return &Server{
		app:          a,
		address:      cfg.Address,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		shutdown:     5 * time.Second,
		log:          cfg.Logger,
	}
}

func (s *Server) RegisterRoutes(reg RouteRegistrar) {
	if reg != nil {
		reg(s.app)
	}
}

func (s *Server) Handler() http.Handler {
	return s.app.Handler()
}

// Listen binds the configured address and serves in the background. It
// returns once the listener is bound.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.ln != nil {
		return ErrServerListening
	}

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("httpx: listen %s: %w", s.address, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.app.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}
	s.done = make(chan error, 1)

	srv, done := s.srv, s.done
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
		close(done)
	}()
	s.log.WithField("addr", ln.Addr().String()).Debug("HTTP listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Port returns the bound TCP port, or 0 before Listen.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Shutdown stops accepting connections and waits for in-flight requests until
// ctx expires. The server cannot be restarted afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.closed = true
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("httpx: shutdown: %w", err)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("httpx: serve: %w", err)
	}
	return nil
}

// Start listens and blocks until ctx is cancelled or serving fails.
func (s *Server) Start(ctx context.Context, opts ...StartOption) error {
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func defaultHTTPErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		switch m := he.Message.(type) {
		case string:
			msg = m
		case error:
			msg = m.Error()
		case nil:
		default:
			msg = fmt.Sprint(m)
		}
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]any{"error": msg})
	}
}

func validatorMiddleware(v ...Validator) MiddlewareFunc {
	copied := append([]Validator(nil), v...)
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			for _, validator := range copied {
				if validator == nil {
					continue
				}
				if err := validator(c); err != nil {
					return err
				}
			}
			return next(c)
		}
	}
}
