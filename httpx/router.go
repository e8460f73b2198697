package httpx

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// Route represents a single HTTP route definition.
type Route struct {
	Method     string
	Path       string
	Handler    HandlerFunc
	Middleware []MiddlewareFunc
}

// RegisterRoutes applies a list of Route definitions to the App instance.
func RegisterRoutes(a *App, routes ...Route) {
	if a == nil || a.e == nil {
		return
	}
	for _, r := range routes {
		if r.Handler == nil || r.Path == "" || r.Method == "" {
			continue
		}
		a.e.Add(strings.ToUpper(r.Method), r.Path, r.Handler, r.Middleware...)
	}
}

// group is an internal wrapper for route grouping
type group struct {
	g *echo.Group
}

func (a *App) newGroup(prefix string, mw ...MiddlewareFunc) *group {
	return &group{g: a.e.Group(prefix, mw...)}
}

// Router wraps an internal group to provide chainable helpers for common verbs.
type Router struct {
	group *group
}

// NewRouter creates a router under an optional prefix with optional middleware.
func NewRouter(a *App, prefix string, mw ...MiddlewareFunc) *Router {
	if a == nil || a.e == nil {
		return &Router{}
	}
	return &Router{group: a.newGroup(prefix, mw...)}
}

func (r *Router) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	return r.Add(echo.GET, path, h, mw...)
}

// Add registers h for method and path relative to the router prefix. An empty
// path registers the prefix itself.
func (r *Router) Add(method, path string, h HandlerFunc, mw ...MiddlewareFunc) *Router {
	if r.group == nil || r.group.g == nil || h == nil || method == "" {
		return r
	}
	r.group.g.Add(strings.ToUpper(method), path, h, mw...)
	return r
}
