package container

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adeilh/go-rakh-harness/webarchive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func demoArchive(name, greeting string) *webarchive.Archive {
	return webarchive.New(name).
		AddString("index.html", "<h1>"+name+"</h1>").
		AddString("css/site.css", "body{}").
		AddString("WEB-INF/secret.txt", "hidden").
		AddRoute(webarchive.Route{Path: "/index", ContentType: "text/plain", Body: greeting}).
		AddRoute(webarchive.Route{Method: http.MethodPost, Path: "/orders", Status: http.StatusCreated, Body: `{"id":1}`,
			ContentType: "application/json", Headers: map[string]string{"X-Order": "1"}})
}

func export(t *testing.T, a *webarchive.Archive, path string) string {
	t.Helper()
	_, err := a.ExportTo(path, true)
	require.NoError(t, err)
	return path
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.BaseDir == "" {
		cfg.BaseDir = t.TempDir()
	}
	s := New()
	require.NoError(t, s.Configure(cfg))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		assert.NoError(t, s.Stop(context.Background()))
	})
	return s
}

func get(t *testing.T, s *Server, path string) (int, string, http.Header) {
	t.Helper()
	return do(t, s, http.MethodGet, path, nil)
}

func do(t *testing.T, s *Server, method, path string, prepare func(*http.Request)) (int, string, http.Header) {
	t.Helper()
	req, err := http.NewRequest(method, fmt.Sprintf("http://localhost:%d%s", s.Port(), path), nil)
	require.NoError(t, err)
	if prepare != nil {
		prepare(req)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func TestStateTransitions(t *testing.T) {
	s := New()
	assert.Equal(t, StateUnconfigured, s.State())
	require.ErrorIs(t, s.Start(context.Background()), ErrNotConfigured)
	assert.Equal(t, 0, s.Port())

	require.NoError(t, s.Configure(Config{BaseDir: t.TempDir()}))
	assert.Equal(t, StateConfigured, s.State())
	assert.Equal(t, 0, s.Port())

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())
	assert.NotZero(t, s.Port())
	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	require.ErrorIs(t, s.Configure(Config{BaseDir: t.TempDir()}), ErrAlreadyRunning)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 0, s.Port())
	require.NoError(t, s.Stop(context.Background()))

	require.ErrorIs(t, s.Start(context.Background()), ErrStopped)
	require.ErrorIs(t, s.Configure(Config{BaseDir: t.TempDir()}), ErrStopped)
	_, err := s.Deploy(context.Background(), "/demo", "demo.war")
	require.ErrorIs(t, err, ErrStopped)
}

func TestStopWithoutStart(t *testing.T) {
	s := New()
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())

	s = New()
	require.NoError(t, s.Configure(Config{BaseDir: t.TempDir()}))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
}

func TestConfigure(t *testing.T) {
	s := New()
	require.ErrorIs(t, s.Configure(Config{}), ErrInvalidConfig)
	require.ErrorIs(t, s.Configure(Config{BaseDir: t.TempDir(), Port: 70000}), ErrInvalidConfig)
	assert.Equal(t, StateUnconfigured, s.State())

	base := filepath.Join(t.TempDir(), "base")
	require.NoError(t, s.Configure(Config{BaseDir: base}))
	cfg := s.Config()
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, base, cfg.AppBase)
	assert.Equal(t, DefaultScanInterval, cfg.ScanInterval)
	assert.DirExists(t, base)

	apps := filepath.Join(t.TempDir(), "apps")
	require.NoError(t, s.Configure(Config{BaseDir: base, AppBase: apps}))
	assert.Equal(t, apps, s.Config().AppBase)
	assert.DirExists(t, apps)
}

func TestStartFailsWhenPortTaken(t *testing.T) {
	first := startServer(t, Config{})

	s := New()
	require.NoError(t, s.Configure(Config{BaseDir: t.TempDir(), Port: first.Port()}))
	require.Error(t, s.Start(context.Background()))
	assert.Equal(t, StateConfigured, s.State())
}

func TestDeployAndServe(t *testing.T) {
	s := startServer(t, Config{})
	archive := export(t, demoArchive("demo", "hello from demo"), filepath.Join(t.TempDir(), "demo.war"))

	d, err := s.Deploy(context.Background(), "/demo", archive)
	require.NoError(t, err)
	assert.Equal(t, "/demo", d.ContextPath)
	assert.Equal(t, "demo", d.Name)
	assert.Equal(t, archive, d.Archive)
	assert.Equal(t, filepath.Join(s.Config().AppBase, "demo"), d.DocBase)
	assert.FileExists(t, filepath.Join(d.DocBase, "index.html"))
	assert.Equal(t, []Deployment{d}, s.Deployments())

	status, body, header := get(t, s, "/demo/index")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello from demo", body)
	assert.Equal(t, "text/plain", header.Get("Content-Type"))

	status, body, header = do(t, s, http.MethodPost, "/demo/orders", nil)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, `{"id":1}`, body)
	assert.Equal(t, "1", header.Get("X-Order"))

	status, body, _ = get(t, s, "/demo/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<h1>demo</h1>", body)

	status, body, _ = get(t, s, "/demo")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<h1>demo</h1>", body)

	status, body, header = get(t, s, "/demo/css/site.css")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "body{}", body)
	assert.Contains(t, header.Get("Content-Type"), "text/css")

	for _, path := range []string{"/demo/WEB-INF/secret.txt", "/demo/WEB-INF/web.json", "/demo/missing", "/other/index", "/"} {
		status, _, _ = get(t, s, path)
		assert.Equal(t, http.StatusNotFound, status, path)
	}
}

func TestDeployRejectsInvalidInput(t *testing.T) {
	s := startServer(t, Config{})
	dir := t.TempDir()
	archive := export(t, demoArchive("demo", "hi"), filepath.Join(dir, "demo.war"))

	_, err := s.Deploy(context.Background(), "demo", archive)
	require.ErrorIs(t, err, ErrInvalidContextPath)
	_, err = s.Deploy(context.Background(), "/a/b", archive)
	require.ErrorIs(t, err, ErrInvalidContextPath)

	_, err = s.Deploy(context.Background(), "/demo", filepath.Join(dir, "missing.war"))
	require.ErrorIs(t, err, ErrInvalidArchive)

	junk := filepath.Join(dir, "junk.war")
	require.NoError(t, os.WriteFile(junk, []byte("not a zip"), 0o644))
	_, err = s.Deploy(context.Background(), "/junk", junk)
	require.ErrorIs(t, err, ErrInvalidArchive)
	require.ErrorIs(t, err, webarchive.ErrNotArchive)

	_, err = s.Deploy(context.Background(), "/demo", archive)
	require.NoError(t, err)
	_, err = s.Deploy(context.Background(), "/demo", archive)
	require.ErrorIs(t, err, ErrDuplicateContext)
	assert.Len(t, s.Deployments(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Deploy(ctx, "/again", archive)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeployHandWrittenArchive(t *testing.T) {
	s := startServer(t, Config{})
	path := filepath.Join(t.TempDir(), "hand.war")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create(webarchive.ManifestPath)
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"name":"hand","routes":[{"path":"/index","body":"hi"}]}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = s.Deploy(context.Background(), "/hand", path)
	require.NoError(t, err)

	status, body, _ := get(t, s, "/hand/index")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hi", body)
}

func TestDeployFinishingAfterStopIsDiscarded(t *testing.T) {
	s := New()
	require.NoError(t, s.Configure(Config{BaseDir: t.TempDir()}))
	require.NoError(t, s.Start(context.Background()))
	cfg := s.Config()
	archive := export(t, demoArchive("late", "hi"), filepath.Join(t.TempDir(), "late.war"))
	require.NoError(t, s.Stop(context.Background()))

	_, err := s.deploy("/late", archive, cfg)
	require.ErrorIs(t, err, ErrStopped)
	assert.Empty(t, s.Deployments())
	assert.NoDirExists(t, filepath.Join(cfg.AppBase, "late"))
}

func TestDeployRequiresRunningServer(t *testing.T) {
	s := New()
	_, err := s.Deploy(context.Background(), "/demo", "demo.war")
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestMultipleDeploymentsShareThePort(t *testing.T) {
	s := startServer(t, Config{})
	dir := t.TempDir()
	for _, name := range []string{"alpha", "beta"} {
		archive := export(t, demoArchive(name, "hello from "+name), filepath.Join(dir, name+".war"))
		_, err := s.Deploy(context.Background(), "/"+name, archive)
		require.NoError(t, err)
	}

	for _, name := range []string{"alpha", "beta"} {
		status, body, _ := get(t, s, "/"+name+"/index")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "hello from "+name, body)
	}
	deployments := s.Deployments()
	require.Len(t, deployments, 2)
	assert.Equal(t, "/alpha", deployments[0].ContextPath)
	assert.Equal(t, "/beta", deployments[1].ContextPath)
}

func TestUndeploy(t *testing.T) {
	s := startServer(t, Config{})
	archive := export(t, demoArchive("demo", "hi"), filepath.Join(t.TempDir(), "demo.war"))
	d, err := s.Deploy(context.Background(), "/demo", archive)
	require.NoError(t, err)

	require.NoError(t, s.Undeploy("/demo"))
	assert.NoDirExists(t, d.DocBase)
	assert.Empty(t, s.Deployments())
	status, _, _ := get(t, s, "/demo/index")
	assert.Equal(t, http.StatusNotFound, status)

	require.ErrorIs(t, s.Undeploy("/demo"), ErrUnknownContext)

	_, err = s.Deploy(context.Background(), "/demo", archive)
	require.NoError(t, err)
}

func TestRouteServesPackagedResource(t *testing.T) {
	s := startServer(t, Config{})
	a := webarchive.New("res").
		AddString("data/report.json", `{"ok":true}`).
		AddRoute(webarchive.Route{Path: "/report", Resource: "data/report.json"}).
		AddRoute(webarchive.Route{Path: "/", Body: "custom root"})
	archive := export(t, a, filepath.Join(t.TempDir(), "res.war"))
	_, err := s.Deploy(context.Background(), "/res", archive)
	require.NoError(t, err)

	status, body, header := get(t, s, "/res/report")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `{"ok":true}`, body)
	assert.Contains(t, header.Get("Content-Type"), "application/json")

	for _, path := range []string{"/res", "/res/"} {
		status, body, _ = get(t, s, path)
		assert.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "custom root", body, path)
	}
}

func TestCustomWelcomeFiles(t *testing.T) {
	s := startServer(t, Config{})
	a := webarchive.New("welcome").
		AddString("home.txt", "home").
		SetWelcomeFiles("missing.html", "home.txt")
	archive := export(t, a, filepath.Join(t.TempDir(), "welcome.war"))
	_, err := s.Deploy(context.Background(), "/welcome", archive)
	require.NoError(t, err)

	status, body, _ := get(t, s, "/welcome/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "home", body)

	s2 := webarchive.New("bare").AddString("readme.txt", "x")
	archive = export(t, s2, filepath.Join(t.TempDir(), "bare.war"))
	_, err = s.Deploy(context.Background(), "/bare", archive)
	require.NoError(t, err)
	status, _, _ = get(t, s, "/bare/")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSecurityConstraints(t *testing.T) {
	s := startServer(t, Config{})
	a := webarchive.New("secure").
		AddString("public.txt", "public").
		AddString("admin/secret.txt", "classified").
		AddRoute(webarchive.Route{Path: "/admin/panel", Body: "admin only"}).
		SetRealm("Secure Area").
		AddConstraint(webarchive.Constraint{Pattern: "/admin/**", Roles: []string{"admin"}}).
		AddUserWithCost("alice", "s3cret", bcrypt.MinCost, "admin").
		AddUserWithCost("bob", "pa55", bcrypt.MinCost, "viewer")
	archive := export(t, a, filepath.Join(t.TempDir(), "secure.war"))
	_, err := s.Deploy(context.Background(), "/secure", archive)
	require.NoError(t, err)

	status, body, _ := get(t, s, "/secure/public.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "public", body)

	status, _, header := get(t, s, "/secure/admin/panel")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, `Basic realm="Secure Area"`, header.Get("WWW-Authenticate"))

	status, _, _ = do(t, s, http.MethodGet, "/secure/admin/panel", func(r *http.Request) { r.SetBasicAuth("alice", "wrong") })
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _, _ = do(t, s, http.MethodGet, "/secure/admin/panel", func(r *http.Request) { r.SetBasicAuth("bob", "pa55") })
	assert.Equal(t, http.StatusForbidden, status)

	status, body, _ = do(t, s, http.MethodGet, "/secure/admin/panel", func(r *http.Request) { r.SetBasicAuth("alice", "s3cret") })
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "admin only", body)

	for _, path := range []string{
		"/secure/admin/secret.txt",
		"/secure/./admin/secret.txt",
		"/secure/x/../admin/secret.txt",
		"/secure//admin/secret.txt",
	} {
		status, _, _ = get(t, s, path)
		assert.Equal(t, http.StatusUnauthorized, status, path)

		status, body, _ = do(t, s, http.MethodGet, path, func(r *http.Request) { r.SetBasicAuth("alice", "s3cret") })
		assert.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "classified", body, path)
	}
}

func TestDeployOnStartup(t *testing.T) {
	base := t.TempDir()
	export(t, demoArchive("early", "deployed at startup"), filepath.Join(base, "early.war"))
	require.NoError(t, os.WriteFile(filepath.Join(base, "broken.war"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "notes.txt"), []byte("ignored"), 0o644))

	s := startServer(t, Config{BaseDir: base, DeployOnStartup: true})

	deployments := s.Deployments()
	require.Len(t, deployments, 1)
	assert.Equal(t, "/early", deployments[0].ContextPath)
	status, body, _ := get(t, s, "/early/index")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "deployed at startup", body)
}

func TestStartWithoutDeployOnStartupIgnoresAppBase(t *testing.T) {
	base := t.TempDir()
	export(t, demoArchive("early", "hi"), filepath.Join(base, "early.war"))

	s := startServer(t, Config{BaseDir: base})
	assert.Empty(t, s.Deployments())
}

func TestAutoDeploy(t *testing.T) {
	base := t.TempDir()
	s := startServer(t, Config{BaseDir: base, AutoDeploy: true, ScanInterval: 20 * time.Millisecond})

	archive := export(t, demoArchive("late", "first"), filepath.Join(base, "late.war"))
	require.Eventually(t, func() bool {
		return len(s.Deployments()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	status, body, _ := get(t, s, "/late/index")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "first", body)

	first := s.Deployments()[0]
	export(t, demoArchive("late", "second"), archive)
	modTime := first.ArchiveModTime.Add(time.Minute)
	require.NoError(t, os.Chtimes(archive, modTime, modTime))

	require.Eventually(t, func() bool {
		d := s.Deployments()
		return len(d) == 1 && d[0].ArchiveModTime.Equal(modTime)
	}, 5*time.Second, 20*time.Millisecond)

	status, body, _ = get(t, s, "/late/index")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "second", body)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unconfigured", StateUnconfigured.String())
	assert.Equal(t, "configured", StateConfigured.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
