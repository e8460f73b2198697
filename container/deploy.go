package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adeilh/go-rakh-harness/httpx"
	"github.com/adeilh/go-rakh-harness/webarchive"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Deployment describes an application mounted on the server.
type Deployment struct {
	ContextPath    string
	Name           string
	DocBase        string
	Archive        string
	ArchiveSize    int64
	ArchiveModTime time.Time
	DeployedAt     time.Time
}

type deployment struct {
	Deployment
	app *httpx.App
}

// ContextName validates a context path of the form "/name" and returns name.
func ContextName(contextPath string) (string, error) {
	name := strings.TrimPrefix(contextPath, "/")
	if !strings.HasPrefix(contextPath, "/") || !webarchive.ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidContextPath, contextPath)
	}
	return name, nil
}

// Deploy mounts the archive at archivePath under contextPath. The archive is
// exploded into AppBase/<name> and served from there.
func (s *Server) Deploy(ctx context.Context, contextPath, archivePath string) (Deployment, error) {
	if err := ctx.Err(); err != nil {
		return Deployment{}, err
	}
	s.mu.Lock()
	state, cfg := s.state, s.cfg
	s.mu.Unlock()
	switch state {
	case StateRunning:
	case StateStopped:
		return Deployment{}, ErrStopped
	default:
		return Deployment{}, ErrNotRunning
	}
	return s.deploy(contextPath, archivePath, cfg)
}

func (s *Server) deploy(contextPath, archivePath string, cfg Config) (Deployment, error) {
	name, err := ContextName(contextPath)
	if err != nil {
		return Deployment{}, err
	}
	if err := s.reserve(contextPath); err != nil {
		return Deployment{}, err
	}
	defer s.release(contextPath)

	log := s.log.WithFields(logrus.Fields{"context": contextPath, "archive": archivePath})

	info, err := os.Stat(archivePath)
	if err != nil {
		return Deployment{}, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	archive, err := webarchive.Open(archivePath)
	if err != nil {
		return Deployment{}, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	docBase := filepath.Join(cfg.AppBase, name)
	if err := archive.Explode(docBase); err != nil {
		return Deployment{}, fmt.Errorf("container: deploy %s: %w", contextPath, err)
	}
	app, err := newApplication(contextPath, docBase, archive.Manifest())
	if err != nil {
		_ = os.RemoveAll(docBase)
		return Deployment{}, fmt.Errorf("container: deploy %s: %w", contextPath, err)
	}

	d := &deployment{
		Deployment: Deployment{
			ContextPath:    contextPath,
			Name:           name,
			DocBase:        docBase,
			Archive:        archivePath,
			ArchiveSize:    info.Size(),
			ArchiveModTime: info.ModTime(),
			DeployedAt:     time.Now(),
		},
		app: app,
	}
	s.depMu.Lock()
	if s.State() != StateRunning {
		s.depMu.Unlock()
		_ = os.RemoveAll(docBase)
		return Deployment{}, ErrStopped
	}
	s.deployments[contextPath] = d
	s.depMu.Unlock()

	log.WithFields(logrus.Fields{
		"size":      humanize.Bytes(uint64(info.Size())),
		"resources": len(archive.Resources()),
	}).Info("Deployed")
	return d.Deployment, nil
}

// reserve claims contextPath for an in-flight deployment.
func (s *Server) reserve(contextPath string) error {
	s.depMu.Lock()
	defer s.depMu.Unlock()
	if _, ok := s.deployments[contextPath]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateContext, contextPath)
	}
	if _, ok := s.pending[contextPath]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateContext, contextPath)
	}
	s.pending[contextPath] = struct{}{}
	return nil
}

func (s *Server) release(contextPath string) {
	s.depMu.Lock()
	delete(s.pending, contextPath)
	s.depMu.Unlock()
}

// Undeploy unmounts contextPath and removes its exploded directory.
func (s *Server) Undeploy(contextPath string) error {
	s.depMu.Lock()
	d, ok := s.deployments[contextPath]
	delete(s.deployments, contextPath)
	s.depMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContext, contextPath)
	}
	if err := os.RemoveAll(d.DocBase); err != nil {
		return fmt.Errorf("container: undeploy %s: %w", contextPath, err)
	}
	s.log.WithField("context", contextPath).Info("Undeployed")
	return nil
}
