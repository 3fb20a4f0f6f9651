package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getsentry/sentry-go"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc")
	if got := CorrelationID(ctx); got != "abc" {
		t.Errorf("CorrelationID() = %q, want abc", got)
	}
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(empty) = %q, want empty", got)
	}
}

func TestLoggerFromFallsBackToDefault(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "prod")
	ctx := WithLogger(context.Background(), l)
	LoggerFrom(ctx).Info("hello", "k", "v")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not JSON: %v", err)
	}
	if line["msg"] != "hello" || line["k"] != "v" {
		t.Errorf("log line = %v", line)
	}
	if LoggerFrom(context.Background()) == nil {
		t.Error("LoggerFrom(empty) returned nil")
	}
}

func TestRecoverPanicsWritesResponse(t *testing.T) {
	h := RecoverPanics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestScrubPII(t *testing.T) {
	ev := &sentry.Event{
		User:    sentry.User{Email: "a@b.c", IPAddress: "1.2.3.4"},
		Request: &sentry.Request{Headers: map[string]string{"Authorization": "Bearer x", "Accept": "*/*"}},
	}
	out := scrubPII(ev)
	if out.User.Email != "[redacted]" || out.User.IPAddress != "" {
		t.Errorf("user not scrubbed: %+v", out.User)
	}
	if out.Request.Headers["Authorization"] != "[redacted]" || out.Request.Headers["Accept"] != "*/*" {
		t.Errorf("headers = %v", out.Request.Headers)
	}
}

func TestInitTracerExporters(t *testing.T) {
	var buf bytes.Buffer
	tp, err := InitTracer(TracerOptions{ServiceName: ServiceName, Version: "test", Env: "test", Output: &buf})
	if err != nil {
		t.Fatalf("InitTracer(stdout) error = %v", err)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "probe")
	span.End()
	ShutdownTracer(context.Background())
	if !bytes.Contains(buf.Bytes(), []byte(`"probe"`)) {
		t.Errorf("exported spans = %s, want probe span", buf.String())
	}

	if _, err := InitTracer(TracerOptions{ServiceName: ServiceName, Exporter: "none"}); err != nil {
		t.Fatalf("InitTracer(none) error = %v", err)
	}
	ShutdownTracer(context.Background())

	if _, err := InitTracer(TracerOptions{ServiceName: ServiceName, Exporter: "zipkin"}); err == nil {
		t.Error("InitTracer(zipkin) expected error")
	}
}
