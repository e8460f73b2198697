// Package container is an embedded application server. It listens on a
// single port and hosts any number of web archives, each mounted under its
// own context path.
package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/adeilh/go-rakh-harness/httpx"
	"github.com/adeilh/go-rakh-harness/internal/logging"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidConfig      = errors.New("container: invalid configuration")
	ErrNotConfigured      = errors.New("container: server not configured")
	ErrAlreadyRunning     = errors.New("container: server already running")
	ErrNotRunning         = errors.New("container: server not running")
	ErrStopped            = errors.New("container: server stopped")
	ErrInvalidContextPath = errors.New("container: invalid context path")
	ErrDuplicateContext   = errors.New("container: context path already deployed")
	ErrUnknownContext     = errors.New("container: context path not deployed")
	ErrInvalidArchive     = errors.New("container: invalid archive")
)

type Option func(*Server)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

type Server struct {
	log logrus.FieldLogger

	mu       sync.Mutex
	state    State
	cfg      Config
	http     *httpx.Server
	stopScan context.CancelFunc
	scanDone chan struct{}

	depMu       sync.RWMutex
	deployments map[string]*deployment
	pending     map[string]struct{}
}

func New(opts ...Option) *Server {
	s := &Server{
		log:         logging.Discard(),
		deployments: make(map[string]*deployment),
		pending:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Configure applies cfg and creates its directories. It may be called again
// until the server starts.
func (s *Server) Configure(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return ErrAlreadyRunning
	case StateStopped:
		return ErrStopped
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	for _, dir := range []string{cfg.BaseDir, cfg.AppBase} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	s.cfg = cfg
	s.state = StateConfigured
	s.log.WithFields(logrus.Fields{
		"addr":            cfg.address(),
		"baseDir":         cfg.BaseDir,
		"appBase":         cfg.AppBase,
		"autoDeploy":      cfg.AutoDeploy,
		"deployOnStartup": cfg.DeployOnStartup,
	}).Info("Configured")
	return nil
}

// Config returns the active configuration with defaults applied.
func (s *Server) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start binds the listener. When DeployOnStartup is set every archive already
// in AppBase is deployed before Start returns; when AutoDeploy is set AppBase
// is polled for new or changed archives until Stop.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	switch s.state {
	case StateUnconfigured:
		s.mu.Unlock()
		return ErrNotConfigured
	case StateRunning:
		s.mu.Unlock()
		return ErrAlreadyRunning
	case StateStopped:
		s.mu.Unlock()
		return ErrStopped
	}

	cfg := s.cfg
	srv := httpx.NewServer(httpx.WithAddress(cfg.address()), httpx.WithLogger(s.log))
	srv.RegisterRoutes(func(a *httpx.App) {
		a.Any("/*", s.dispatch)
	})
	if err := srv.Listen(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("container: start: %w", err)
	}
	s.http = srv
	s.state = StateRunning
	if cfg.AutoDeploy {
		scanCtx, cancel := context.WithCancel(context.Background())
		s.stopScan = cancel
		s.scanDone = make(chan struct{})
		go s.scanLoop(scanCtx, cfg, s.scanDone)
	}
	s.mu.Unlock()

	s.log.WithField("port", srv.Port()).Info("Started")
	if cfg.DeployOnStartup {
		s.scan(ctx, cfg)
	}
	return nil
}

// Port returns the bound port while running and 0 otherwise.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.http == nil {
		return 0
	}
	return s.http.Port()
}

// Stop shuts the server down. Stopping a server that never started only
// records the transition; stopping twice is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.state = StateStopped
	srv, stopScan, scanDone, timeout := s.http, s.stopScan, s.scanDone, s.cfg.ShutdownTimeout
	s.mu.Unlock()

	if stopScan != nil {
		stopScan()
		<-scanDone
	}
	if prev != StateRunning {
		s.log.WithField("state", prev.String()).Info("Stopped without starting")
		return nil
	}

	s.log.Info("Stopping...")
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	s.depMu.Lock()
	s.deployments = make(map[string]*deployment)
	s.depMu.Unlock()

	if err != nil {
		return fmt.Errorf("container: stop: %w", err)
	}
	s.log.Info("Stopped")
	return nil
}

// Deployments lists the mounted applications ordered by context path.
func (s *Server) Deployments() []Deployment {
	s.depMu.RLock()
	defer s.depMu.RUnlock()
	out := make([]Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		out = append(out, d.Deployment)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContextPath < out[j].ContextPath })
	return out
}

// dispatch hands the request to the deployment owning its first path segment.
func (s *Server) dispatch(c httpx.Context) error {
	seg := strings.TrimPrefix(c.Request().URL.Path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}

	s.depMu.RLock()
	d := s.deployments["/"+seg]
	s.depMu.RUnlock()
	if d == nil {
		return httpx.ErrNotFound
	}
	d.app.ServeHTTP(c.Response(), c.Request())
	return nil
}
