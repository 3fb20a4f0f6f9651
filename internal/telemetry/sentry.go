package telemetry

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry initializes the Sentry SDK. An empty dsn leaves Sentry disabled,
// and every capture helper below becomes a no-op.
func InitSentry(dsn, env, release string) error {
	if dsn == "" {
		slog.Info("sentry disabled, no DSN configured")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		TracesSampleRate: 0.1,
		AttachStacktrace: true,
		Tags:             map[string]string{"service": ServiceName},
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return scrubPII(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	return nil
}

// CaptureError sends an error to Sentry with context tags.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// CaptureMessage reports a noteworthy non-error condition.
func CaptureMessage(message string, level sentry.Level, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureMessage(message)
	})
}

// Flush waits for buffered Sentry events to be sent.
func Flush() {
	sentry.Flush(2 * time.Second)
}

// RecoverPanics reports a panic to Sentry and lets onPanic write the response.
func RecoverPanics(next http.Handler, onPanic func(w http.ResponseWriter, r *http.Request, err error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.Scope().SetTag("panic", "true")
				hub.CaptureException(err)
				hub.Flush(2 * time.Second)

				LoggerFrom(r.Context()).Error("panic recovered", "error", err, "path", r.URL.Path)
				onPanic(w, r, err)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// scrubPII removes credentials and addresses from Sentry events before they leave the process.
func scrubPII(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}
	if event.User.Email != "" {
		event.User.Email = "[redacted]"
	}
	event.User.IPAddress = ""
	if event.Request != nil {
		for k := range event.Request.Headers {
			switch http.CanonicalHeaderKey(k) {
			case "Authorization", "Cookie", "X-Api-Key", "X-Auth-Token", "X-Client-Secret":
				event.Request.Headers[k] = "[redacted]"
			}
		}
	}
	return event
}
