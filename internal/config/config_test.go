// Package config provides tests for the configuration loading and management.
package config

import (
	"testing"
	"time"
)

// TestLoad tests the Load function with default values.
func TestLoad(t *testing.T) {
	t.Setenv("OTT_JWT_SECRET", "0123456789abcdef0123")
	for _, key := range []string{"OTT_ENV", "OTT_PORT", "OTT_DB_DSN", "OTT_GATEWAY_TIMEOUT", "OTT_PENDING_TTL", "RAZORPAY_KEY_ID", "STRIPE_SECRET_KEY", "OTT_TRACE_EXPORTER", "OTT_TRACE_SAMPLE_RATIO"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want %v", cfg.Env, "dev")
	}
	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want %v", cfg.Port, "8080")
	}
	if cfg.Currency != "INR" {
		t.Errorf("Load() Currency = %v, want %v", cfg.Currency, "INR")
	}
	if cfg.GatewayTimeout != 10*time.Second {
		t.Errorf("Load() GatewayTimeout = %v, want %v", cfg.GatewayTimeout, 10*time.Second)
	}
	if cfg.TraceExporter != "stdout" || cfg.TraceSampleRatio != 1 {
		t.Errorf("Load() trace = %v/%v, want stdout/1", cfg.TraceExporter, cfg.TraceSampleRatio)
	}
	if cfg.Backend() != "memory" {
		t.Errorf("Backend() = %v, want memory", cfg.Backend())
	}
	if cfg.Gateways.Razorpay.Enabled() {
		t.Errorf("Razorpay enabled without credentials")
	}
}

// TestLoadWithEnv tests the Load function with environment variables set.
func TestLoadWithEnv(t *testing.T) {
	t.Setenv("OTT_ENV", "test")
	t.Setenv("OTT_PORT", "9090")
	t.Setenv("OTT_DB_DSN", "mongodb://localhost:27017")
	t.Setenv("OTT_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("OTT_GATEWAY_TIMEOUT", "3s")
	t.Setenv("OTT_PENDING_TTL", "5m")
	t.Setenv("OTT_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("OTT_PUBLIC_BASE_URL", "https://pay.example/")
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test")
	t.Setenv("RAZORPAY_KEY_SECRET", "secret")
	t.Setenv("PAYU_MERCHANT_KEY", "key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Env != "test" {
		t.Errorf("Load() Env = %v, want %v", cfg.Env, "test")
	}
	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want %v", cfg.Port, "9090")
	}
	if cfg.Backend() != "mongo" {
		t.Errorf("Backend() = %v, want mongo", cfg.Backend())
	}
	if cfg.GatewayTimeout != 3*time.Second {
		t.Errorf("Load() GatewayTimeout = %v, want 3s", cfg.GatewayTimeout)
	}
	if cfg.PendingTTL != 5*time.Minute {
		t.Errorf("Load() PendingTTL = %v, want 5m", cfg.PendingTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("Load() CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.PublicBaseURL != "https://pay.example" {
		t.Errorf("Load() PublicBaseURL = %v, want trailing slash trimmed", cfg.PublicBaseURL)
	}
	if !cfg.Gateways.Razorpay.Enabled() {
		t.Errorf("Razorpay should be enabled")
	}
	if cfg.Gateways.PayU.Enabled() {
		t.Errorf("PayU should stay disabled without a salt")
	}
}

// TestLoadRequiresSecret tests that a missing JWT secret is rejected.
func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("OTT_JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error without OTT_JWT_SECRET")
	}

	t.Setenv("OTT_JWT_SECRET", "short")
	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for a short secret")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("OTT_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("OTT_GATEWAY_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for unparsable OTT_GATEWAY_TIMEOUT")
	}
}

func TestLoadRejectsSampleRatioOutOfRange(t *testing.T) {
	t.Setenv("OTT_JWT_SECRET", "0123456789abcdef0123")
	for _, v := range []string{"0", "1.5", "half"} {
		t.Setenv("OTT_TRACE_SAMPLE_RATIO", v)
		if _, err := Load(); err == nil {
			t.Errorf("Load() expected error for OTT_TRACE_SAMPLE_RATIO=%q", v)
		}
	}
}
