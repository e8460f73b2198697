package realm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
)

type principalKey struct{}

// Middleware enforces a realm's constraints using HTTP Basic authentication.
type Middleware struct {
	realm        *Realm
	stripPrefix  string
	errorHandler ErrorHandler
}

func NewMiddleware(r *Realm, opts ...MiddlewareOption) (*Middleware, error) {
	if r == nil {
		return nil, errors.New("realm: middleware requires a realm")
	}
	cfg := middlewareConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	m := &Middleware{realm: r, stripPrefix: cfg.stripPrefix, errorHandler: cfg.errorHandler}
	if m.errorHandler == nil {
		m.errorHandler = m.defaultErrorHandler
	}
	return m, nil
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m == nil {
		panic("realm: middleware is nil")
	}
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Match against the cleaned path so dot segments and repeated slashes
		// cannot step around a constraint.
		p := path.Clean("/" + strings.TrimPrefix(r.URL.Path, m.stripPrefix))
		constraint, ok := m.realm.Match(r.Method, p)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			m.errorHandler(w, r, ErrNoCredentials)
			return
		}
		principal, err := m.realm.Authenticate(r.Context(), user, pass)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}
		if err := Authorize(principal, constraint); err != nil {
			m.errorHandler(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func (m *Middleware) defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, ErrMissingRole) {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	status := http.StatusUnauthorized
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", m.realm.Name()))
	http.Error(w, err.Error(), status)
}
