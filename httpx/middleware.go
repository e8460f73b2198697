package httpx

import (
	"net/http"
	"time"

	"github.com/adeilh/go-rakh-harness/realm"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// RealmMiddleware bridges a realm.Middleware into the echo chain. Errors from
// downstream handlers are passed back to echo's error handler.
func RealmMiddleware(mw *realm.Middleware) MiddlewareFunc {
	if mw == nil {
		return func(next HandlerFunc) HandlerFunc {
			return func(c Context) error {
				return HTTPError(http.StatusUnauthorized, "realm middleware missing")
			}
		}
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			var err error
			downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c.SetRequest(r)
				err = next(c)
			})
			mw.Handler(downstream).ServeHTTP(c.Response(), c.Request())
			return err
		}
	}
}

// RequestLoggerMiddleware logs one entry per request to log.
func RequestLoggerMiddleware(log logrus.FieldLogger) MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.Round(time.Microsecond).String(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request failed")
				return nil
			}
			entry.Debug("request")
			return nil
		},
	})
}
