// cmd/climaxd/main.go
// Package main implements the entry point for the paywall service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/reelgate/climaxpay-go/internal/auth"
	"github.com/reelgate/climaxpay-go/internal/catalog"
	"github.com/reelgate/climaxpay-go/internal/config"
	"github.com/reelgate/climaxpay-go/internal/event"
	"github.com/reelgate/climaxpay-go/internal/gateway"
	"github.com/reelgate/climaxpay-go/internal/media"
	"github.com/reelgate/climaxpay-go/internal/metrics"
	"github.com/reelgate/climaxpay-go/internal/model"
	"github.com/reelgate/climaxpay-go/internal/payment"
	"github.com/reelgate/climaxpay-go/internal/ratelimit"
	"github.com/reelgate/climaxpay-go/internal/server"
	"github.com/reelgate/climaxpay-go/internal/storage"
	"github.com/reelgate/climaxpay-go/internal/telemetry"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// main is the entry point for the paywall service.
// It initializes all components, starts the HTTP server, and handles graceful shutdown.
func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logger := telemetry.NewLogger(os.Stdout, cfg.Env)
	slog.SetDefault(logger)

	if err := telemetry.InitSentry(cfg.SentryDSN, cfg.Env, version); err != nil {
		logger.Error("failed to initialize sentry", "error", err)
		os.Exit(1)
	}
	defer telemetry.Flush()

	// Initialize OpenTelemetry
	if _, err := telemetry.InitTracer(telemetry.TracerOptions{
		ServiceName: telemetry.ServiceName,
		Version:     version,
		Env:         cfg.Env,
		Exporter:    cfg.TraceExporter,
		SampleRatio: cfg.TraceSampleRatio,
	}); err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to initialize storage", "backend", cfg.Backend(), "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("storage ready", "backend", cfg.Backend())

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisher(cfg.NATSURL)
	defer pub.Close()

	limiter := ratelimit.New(nil)
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rs, err := ratelimit.DialRedis(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			// Rate limiting fails open; the service still starts.
			logger.Warn("redis unavailable, rate limiting disabled", "error", err)
		} else {
			defer rs.Close()
			limiter = ratelimit.New(rs)
		}
	}

	var resolver media.Resolver = media.Passthrough{}
	if cfg.S3Bucket != "" {
		s3c, err := media.NewS3Client(context.Background(), cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket,
			cfg.S3AccessKey, cfg.S3SecretKey, cfg.PlaybackTTL)
		if err != nil {
			logger.Error("failed to initialize S3 client", "error", err)
			os.Exit(1)
		}
		resolver = s3c
	}

	gateways := gateway.FromConfig(cfg.Gateways, gateway.NewHTTPClient(cfg.GatewayTimeout))
	if len(gateways.Names()) == 0 {
		logger.Warn("no payment gateway configured, purchases will fail")
	} else {
		logger.Info("payment gateways enabled", "gateways", strings.Join(gateways.Names(), ","))
	}

	m := metrics.NewMetrics()
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	payments := payment.NewService(store, gateways, pub, m, payment.Options{
		Currency:       cfg.Currency,
		GatewayTimeout: cfg.GatewayTimeout,
		PendingTTL:     cfg.PendingTTL,
		PublicBaseURL:  cfg.PublicBaseURL,
		ReturnURL:      cfg.FrontendReturnURL,
	})

	if err := bootstrapAdmin(context.Background(), store, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Error("failed to bootstrap admin account", "error", err)
		os.Exit(1)
	}

	// Create HTTP mux with all handlers and middleware
	handler := server.NewMux(server.Deps{
		Store:              store,
		Catalog:            catalog.NewService(store, resolver, pub),
		Payments:           payments,
		Issuer:             issuer,
		Limiter:            limiter,
		Metrics:            m,
		Logger:             logger,
		LoginRateLimit:     cfg.LoginRateLimit,
		InitiateRateLimit:  cfg.InitiateRateLimit,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Initiate waits on a provider for up to GatewayTimeout.
		WriteTimeout: cfg.GatewayTimeout + 10*time.Second,
	}

	// Start server in a separate goroutine
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Handle graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server exited")
}

// openStore selects the backend from the DSN scheme.
func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.Backend() {
	case "postgres":
		return storage.NewPostgres(cfg.DatabaseDSN)
	case "mongo":
		return storage.NewMongo(cfg.DatabaseDSN, cfg.MongoDatabase)
	default:
		return storage.NewMemory(), nil
	}
}

// bootstrapAdmin creates the configured admin account once. An existing
// account with the same email is left untouched.
func bootstrapAdmin(ctx context.Context, store storage.Store, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := store.GetUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	err = store.CreateUser(ctx, model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	})
	if errors.Is(err, storage.ErrConflict) {
		return nil
	}
	if err == nil {
		slog.Info("admin account created", "email", email)
	}
	return err
}
