package httpx

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Context represents the context of the current HTTP request.
type Context = echo.Context

// HandlerFunc defines a function to handle HTTP requests.
type HandlerFunc = echo.HandlerFunc

// MiddlewareFunc defines a function to process middleware.
type MiddlewareFunc = echo.MiddlewareFunc

// App is an application instance for handling HTTP requests. A Server owns
// one root App; deployed applications each get their own.
type App struct{ e *echo.Echo }

// New creates a new App instance.
func New() *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return &App{e}
}

// Use attaches middleware to the App instance.
func (a *App) Use(mw ...MiddlewareFunc) { a.e.Use(mw...) }

// Group creates a route group with an optional prefix and middleware stack.
// Returns a Router that wraps the internal group.
func (a *App) Group(prefix string, mw ...MiddlewareFunc) *Router {
	return &Router{group: a.newGroup(prefix, mw...)}
}

// ServeHTTP dispatches the request through the App's router and middleware.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.e.ServeHTTP(w, r) }

// Handler exposes the App as an http.Handler.
func (a *App) Handler() http.Handler { return a.e }

// SetErrorHandler replaces the handler that renders errors returned by routes.
func (a *App) SetErrorHandler(h HTTPErrorHandler) {
	if h != nil {
		a.e.HTTPErrorHandler = echo.HTTPErrorHandler(h)
	}
}

// CORSMiddleware builds a CORS middleware from cfg; nil uses the defaults.
func CORSMiddleware(cfg *middleware.CORSConfig) MiddlewareFunc {
	if cfg == nil {
		return middleware.CORSWithConfig(middleware.DefaultCORSConfig)
	}
	return middleware.CORSWithConfig(*cfg)
}

// RecoverMiddleware returns a middleware that recovers from panics.
func RecoverMiddleware() MiddlewareFunc { return middleware.Recover() }

// GET registers a GET route.
func (a *App) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.GET(path, h, mw...)
}

// Any registers a route matching every HTTP method.
func (a *App) Any(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.Any(path, h, mw...)
}

// Add registers a route for an arbitrary method.
func (a *App) Add(method, path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.Add(strings.ToUpper(method), path, h, mw...)
}

// HTTPError constructs an HTTP error for returning from handlers.
func HTTPError(code int, message any) error { return echo.NewHTTPError(code, message) }

// ErrNotFound is returned by handlers when nothing serves the request.
var ErrNotFound = echo.ErrNotFound

// DefaultCORSConfig provides the default CORS configuration.
var DefaultCORSConfig = middleware.DefaultCORSConfig
