package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adeilh/go-rakh-harness/webarchive"
)

func (s *Server) scanLoop(ctx context.Context, cfg Config, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx, cfg)
		}
	}
}

// scan deploys every top-level archive in AppBase that is not yet deployed and
// redeploys archives whose modification time changed since they were deployed.
// Failures are logged so one broken archive does not block the others.
func (s *Server) scan(ctx context.Context, cfg Config) {
	entries, err := os.ReadDir(cfg.AppBase)
	if err != nil {
		s.log.WithError(err).WithField("appBase", cfg.AppBase).Warn("Error scanning application base")
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), webarchive.Extension) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), webarchive.Extension)
		if !webarchive.ValidName(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archivePath := filepath.Join(cfg.AppBase, e.Name())
		contextPath := "/" + name

		s.depMu.RLock()
		d := s.deployments[contextPath]
		s.depMu.RUnlock()

		switch {
		case d == nil:
		case d.Archive == archivePath && !d.ArchiveModTime.Equal(info.ModTime()):
			if err := s.Undeploy(contextPath); err != nil {
				s.log.WithError(err).WithField("context", contextPath).Warn("Error undeploying changed archive")
				continue
			}
		default:
			continue
		}

		if s.State() != StateRunning {
			return
		}
		if _, err := s.deploy(contextPath, archivePath, cfg); errors.Is(err, ErrDuplicateContext) {
			s.log.WithField("context", contextPath).Debug("Deployment already in progress")
		} else if err != nil {
			s.log.WithError(err).WithField("archive", archivePath).Warn("Error deploying archive")
		}
	}
}
