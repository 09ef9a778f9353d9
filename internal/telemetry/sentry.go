// Package telemetry reports errors to Sentry. Every function is a no-op until Init has
// been called with a DSN.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const serviceName = "passage"

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN         string
	Environment string
	Release     string
	Debug       bool
}

// Init initializes Sentry and returns a function that flushes pending events.
// If DSN is empty, returns a no-op flush function. A failed initialization is logged
// and the service continues without reporting.
func Init(cfg Config, logger *zap.Logger) func() {
	if cfg.DSN == "" {
		return func() {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		Debug:       cfg.Debug,
		ServerName:  serviceName,
	})
	if err != nil {
		logger.Warn("sentry: failed to initialize, continuing without error reporting", zap.Error(err))
		return func() {}
	}
	logger.Info("sentry: error reporting enabled", zap.String("environment", cfg.Environment))
	return func() {
		sentry.Flush(5 * time.Second)
	}
}

// CaptureError captures an error to Sentry with the hub of ctx when there is one.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// Middleware gives every request its own hub with request context, reports panics and
// records 5xx responses. It degrades to a pass-through when Sentry is not initialized.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sentry.CurrentHub().Client() == nil {
			next.ServeHTTP(w, r)
			return
		}
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
		}
		hub.Scope().SetContext("request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
		})
		if ua := r.UserAgent(); ua != "" {
			hub.Scope().SetTag("user_agent", ua)
		}
		r = r.WithContext(sentry.SetHubOnContext(r.Context(), hub))

		defer func() {
			if err := recover(); err != nil {
				hub.RecoverWithContext(r.Context(), err)
				// re-panic for the router's recoverer
				panic(err)
			}
		}()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status >= 500 {
			hub.CaptureMessage(fmt.Sprintf("HTTP %d: %s %s", rec.status, r.Method, r.URL.Path))
		}
	})
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
