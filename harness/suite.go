// Package harness runs integration tests against web applications deployed
// into one embedded server shared by every test in the process.
//
// A Suite owns the server: create it once (typically in TestMain), call Setup
// before the tests and Teardown after them. Each test group then calls New
// with its own application id and an ArchiveFactory; the first call starts the
// server and every call deploys its archive under /<application id>.
package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adeilh/go-rakh-harness/container"
	"github.com/adeilh/go-rakh-harness/internal/logging"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Container is the server a Suite drives. *container.Server implements it.
type Container interface {
	Configure(cfg container.Config) error
	Start(ctx context.Context) error
	Deploy(ctx context.Context, contextPath, archivePath string) (container.Deployment, error)
	Port() int
	State() container.State
	Stop(ctx context.Context) error
}

type SuiteOption func(*Suite)

func WithConfig(cfg Config) SuiteOption {
	return func(s *Suite) {
		s.cfg = cfg
	}
}

func WithLogger(log logrus.FieldLogger) SuiteOption {
	return func(s *Suite) {
		if log != nil {
			s.log = log
		}
	}
}

// WithContainer replaces the embedded server.
func WithContainer(c Container) SuiteOption {
	return func(s *Suite) {
		if c != nil {
			s.container = c
		}
	}
}

// Suite is the process-wide server shared by all harnesses.
type Suite struct {
	cfg       Config
	log       logrus.FieldLogger
	container Container

	setupOnce sync.Once
	setupErr  error
	workDir   string

	mu       sync.Mutex
	started  bool
	startErr error
	closed   bool
}

func NewSuite(opts ...SuiteOption) *Suite {
	s := &Suite{cfg: DefaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logging.New(s.cfg.LogLevel, os.Stderr)
	}
	s.log = logging.ForSystem(s.log, "harness")
	if s.container == nil {
		s.container = container.New(container.WithLogger(logging.ForSystem(s.log, "container")))
	}
	return s
}

// Setup creates a fresh work directory under BaseDir and configures the
// server in it. Only the first call does any work; later calls return its
// result.
func (s *Suite) Setup() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrServerUnavailable
	}
	s.setupOnce.Do(func() {
		s.setupErr = s.setup()
	})
	return s.setupErr
}

func (s *Suite) setup() error {
	if err := s.cfg.validate(); err != nil {
		return err
	}
	workDir := filepath.Join(s.cfg.BaseDir, "rakh-"+uuid.NewString())
	for _, dir := range []string{workDir, stagingDir(workDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	err := s.container.Configure(container.Config{
		Host:            s.cfg.Host,
		Port:            s.cfg.Port,
		BaseDir:         workDir,
		AppBase:         filepath.Join(workDir, "webapps"),
		AutoDeploy:      s.cfg.AutoDeploy,
		DeployOnStartup: s.cfg.DeployOnStartup,
		ScanInterval:    s.cfg.ScanInterval,
		ShutdownTimeout: s.cfg.ShutdownTimeout,
	})
	if err != nil {
		_ = os.RemoveAll(workDir)
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	s.mu.Lock()
	s.workDir = workDir
	s.mu.Unlock()
	s.log.WithField("workDir", workDir).Info("Suite configured")
	return nil
}

// ensureStarted starts the server the first time it is called. A failed start
// is remembered and returned to every later caller.
func (s *Suite) ensureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerUnavailable
	}
	if s.started {
		return s.startErr
	}
	s.started = true
	if err := s.container.Start(ctx); err != nil {
		s.startErr = fmt.Errorf("%w: %w", ErrStart, err)
		return s.startErr
	}
	s.log.WithField("port", s.container.Port()).Info("Server started")
	return nil
}

// Teardown stops the server and removes the work directory unless
// KeepWorkDir is set. Failures are logged, never returned, so that a broken
// shutdown does not fail a test run that otherwise passed. It is safe to call
// before Setup and more than once.
func (s *Suite) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	workDir := s.workDir
	s.mu.Unlock()

	var result *multierror.Error
	if err := s.container.Stop(context.Background()); err != nil {
		result = multierror.Append(result, fmt.Errorf("%w: %w", ErrStop, err))
	}
	if workDir != "" && !s.cfg.KeepWorkDir {
		if err := os.RemoveAll(workDir); err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: remove work directory: %w", ErrStop, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		s.log.WithError(err).Error("Error tearing down suite")
		return
	}
	s.log.Info("Suite torn down")
}

// Port returns the server's port, or 0 while it is not running.
func (s *Suite) Port() int {
	return s.container.Port()
}

// WorkDir returns the per-run directory created by Setup.
func (s *Suite) WorkDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workDir
}

func stagingDir(workDir string) string {
	return filepath.Join(workDir, "staging")
}
