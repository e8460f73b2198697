package container

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/adeilh/go-rakh-harness/httpx"
	"github.com/adeilh/go-rakh-harness/realm"
	"github.com/adeilh/go-rakh-harness/webarchive"
)

const privateDir = "WEB-INF"

// newApplication builds the handler tree for one exploded archive. Manifest
// routes take precedence over welcome files and static resources.
func newApplication(contextPath, docBase string, m webarchive.Manifest) (*httpx.App, error) {
	app := httpx.New()
	app.Use(httpx.RecoverMiddleware())

	var mws []httpx.MiddlewareFunc
	if len(m.Constraints) > 0 {
		mw, err := newRealmMiddleware(contextPath, m)
		if err != nil {
			return nil, err
		}
		mws = append(mws, httpx.RealmMiddleware(mw))
	}
	r := app.Group(contextPath, mws...)

	declared := make(map[string]bool, len(m.Routes))
	for _, rt := range m.Routes {
		declared[rt.Method+" "+rt.Path] = true
	}

	welcomeFiles := m.WelcomeFiles
	if len(welcomeFiles) == 0 {
		welcomeFiles = webarchive.DefaultWelcomeFiles
	}
	welcome := welcomeHandler(docBase, welcomeFiles)
	if !declared[http.MethodGet+" /"] {
		r.GET("", welcome).GET("/", welcome)
	}
	r.GET("/*", staticHandler(docBase))

	for _, rt := range m.Routes {
		h, err := routeHandler(docBase, rt)
		if err != nil {
			return nil, err
		}
		if rt.Path == "/" {
			r.Add(rt.Method, "", h)
		}
		r.Add(rt.Method, rt.Path, h)
	}
	return app, nil
}

func newRealmMiddleware(contextPath string, m webarchive.Manifest) (*realm.Middleware, error) {
	users := make([]realm.User, 0, len(m.Users))
	for _, u := range m.Users {
		users = append(users, realm.User{Name: u.Name, PasswordHash: u.PasswordHash, Roles: u.Roles})
	}
	constraints := make([]realm.Constraint, 0, len(m.Constraints))
	for _, c := range m.Constraints {
		constraints = append(constraints, realm.Constraint{Pattern: c.Pattern, Methods: c.Methods, Roles: c.Roles})
	}
	name := m.Realm
	if name == "" {
		name = m.Name
	}
	rlm, err := realm.New(name, users, constraints)
	if err != nil {
		return nil, err
	}
	return realm.NewMiddleware(rlm, realm.WithStripPrefix(contextPath))
}

func routeHandler(docBase string, rt webarchive.Route) (httpx.HandlerFunc, error) {
	body := []byte(rt.Body)
	name := ""
	if rt.Resource != "" {
		name = rt.Resource
		data, err := os.ReadFile(filepath.Join(docBase, filepath.FromSlash(rt.Resource)))
		if err != nil {
			return nil, fmt.Errorf("route %s %s: %w", rt.Method, rt.Path, err)
		}
		body = data
	}
	contentType := rt.ContentType
	if contentType == "" {
		contentType = webarchive.ContentType(name, body)
	}
	headers := make(map[string]string, len(rt.Headers))
	for k, v := range rt.Headers {
		headers[k] = v
	}
	status := rt.Status

	return func(c httpx.Context) error {
		for k, v := range headers {
			c.Response().Header().Set(k, v)
		}
		return c.Blob(status, contentType, body)
	}, nil
}

func welcomeHandler(docBase string, files []string) httpx.HandlerFunc {
	return func(c httpx.Context) error {
		for _, f := range files {
			if err := serveFile(c, docBase, "/"+f); err == nil {
				return nil
			}
		}
		return httpx.ErrNotFound
	}
}

func staticHandler(docBase string) httpx.HandlerFunc {
	return func(c httpx.Context) error {
		return serveFile(c, docBase, "/"+c.Param("*"))
	}
}

// serveFile serves name from docBase. Directories and anything under WEB-INF
// are reported as not found.
func serveFile(c httpx.Context, docBase, name string) error {
	name = path.Clean(name)
	first := strings.SplitN(strings.TrimPrefix(name, "/"), "/", 2)[0]
	if name == "/" || strings.EqualFold(first, privateDir) {
		return httpx.ErrNotFound
	}

	file := filepath.Join(docBase, filepath.FromSlash(name))
	f, err := os.Open(file)
	if err != nil {
		return httpx.ErrNotFound
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return httpx.ErrNotFound
	}

	head := make([]byte, 512)
	n, _ := f.Read(head)
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	c.Response().Header().Set("Content-Type", webarchive.ContentType(name, head[:n]))
	http.ServeContent(c.Response(), c.Request(), info.Name(), info.ModTime(), f)
	return nil
}
