package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adeilh/go-rakh-harness/container"
	"github.com/adeilh/go-rakh-harness/httpx"
	"github.com/adeilh/go-rakh-harness/webarchive"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// ArchiveFactory builds the application a harness deploys.
type ArchiveFactory func() (*webarchive.Archive, error)

// Harness is one application deployed into the suite's server. Its fields
// are fixed once New returns; Port and BaseURL follow the live server.
type Harness struct {
	suite      *Suite
	appID      string
	staged     string
	deployment container.Deployment
}

// New sets the suite up if needed, builds the archive with factory, stages it
// under the work directory, starts the shared server on first use and
// deploys the archive at /appID.
func New(ctx context.Context, suite *Suite, appID string, factory ArchiveFactory) (*Harness, error) {
	if !webarchive.ValidName(appID) {
		return nil, fmt.Errorf("%w: %w: %q", ErrConfiguration, ErrInvalidAppID, appID)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: archive factory is required", ErrConfiguration)
	}
	if err := suite.Setup(); err != nil {
		return nil, err
	}
	log := suite.log.WithField("app", appID)

	archive, err := factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPackaging, err)
	}
	if archive == nil {
		return nil, fmt.Errorf("%w: factory returned no archive", ErrPackaging)
	}
	staged := filepath.Join(stagingDir(suite.WorkDir()), appID+webarchive.Extension)
	size, err := archive.ExportTo(staged, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPackaging, err)
	}
	log.WithFields(logrus.Fields{
		"path": staged,
		"size": humanize.Bytes(uint64(size)),
	}).Debug("Archive staged")

	if err := suite.ensureStarted(ctx); err != nil {
		return nil, err
	}

	d, err := suite.container.Deploy(ctx, "/"+appID, staged)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeploy, err)
	}

	h := &Harness{
		suite:      suite,
		appID:      appID,
		staged:     staged,
		deployment: d,
	}
	log.WithField("url", h.BaseURL()).Info("Application deployed")
	return h, nil
}

// MustNew is New for use in tests; it fails tb on error.
func MustNew(tb testing.TB, ctx context.Context, suite *Suite, appID string, factory ArchiveFactory) *Harness {
	tb.Helper()
	h, err := New(ctx, suite, appID, factory)
	if err != nil {
		tb.Fatalf("harness %s: %v", appID, err)
	}
	return h
}

func (h *Harness) AppID() string { return h.appID }

func (h *Harness) ContextPath() string { return "/" + h.appID }

// Port is the shared server's bound port at the time of the call, or 0 once
// the suite has been torn down.
func (h *Harness) Port() int { return h.suite.Port() }

// BaseURL is http://localhost:<Port()>/<application id>, without a trailing slash.
func (h *Harness) BaseURL() string {
	return fmt.Sprintf("http://localhost:%d/%s", h.Port(), h.appID)
}

// URL resolves path against BaseURL.
func (h *Harness) URL(path string) string {
	if path == "" {
		return h.BaseURL()
	}
	return h.BaseURL() + "/" + strings.TrimPrefix(path, "/")
}

// StagedArchive is the file the application was deployed from.
func (h *Harness) StagedArchive() string { return h.staged }

func (h *Harness) Deployment() container.Deployment { return h.deployment }

// Client returns an HTTP client whose base URL is BaseURL.
func (h *Harness) Client(opts ...httpx.ClientOption) *httpx.Client {
	return httpx.NewClient(append([]httpx.ClientOption{httpx.WithBaseURL(h.BaseURL())}, opts...)...)
}
