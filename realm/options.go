package realm

import "net/http"

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(http.ResponseWriter, *http.Request, error)

type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	stripPrefix  string
	errorHandler ErrorHandler
}

// WithStripPrefix removes prefix from request paths before matching
// constraints, so patterns stay relative to the application's context path.
func WithStripPrefix(prefix string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.stripPrefix = prefix
	}
}

func WithErrorHandler(handler ErrorHandler) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if handler != nil {
			cfg.errorHandler = handler
		}
	}
}
