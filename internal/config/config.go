// Package config provides configuration loading for the paywall service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load does not override variables already set in the process, so the
// OS environment always wins over .env, which wins over .env.local.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the paywall service.
type Config struct {
	Env           string // Deployment environment (dev, staging, prod)
	Port          string // HTTP server port
	DatabaseDSN   string // postgres:// selects Postgres, mongodb:// selects MongoDB, empty keeps memory
	MongoDatabase string // Database name used with a mongodb:// DSN
	NATSURL       string // NATS server URL; empty disables event publishing
	RedisURL      string // Redis URL for rate limiting; empty disables limits
	SentryDSN     string // Sentry DSN; empty disables error reporting

	TraceExporter    string  // "stdout" or "none"
	TraceSampleRatio float64 // Fraction of root spans sampled, (0, 1]

	// Media storage for playback URLs
	S3Endpoint  string        // S3-compatible storage endpoint
	S3Region    string        // S3 region
	S3Bucket    string        // Bucket holding content video objects
	S3AccessKey string        // S3 access key
	S3SecretKey string        // S3 secret key
	PlaybackTTL time.Duration // Lifetime of presigned playback URLs

	// Auth
	JWTSecret     string        // HMAC secret for access tokens (required)
	JWTIssuer     string        // Issuer stamped on and required from tokens
	TokenTTL      time.Duration // Access token lifetime
	AdminEmail    string        // Bootstrap admin account, created at startup when set
	AdminPassword string        // Bootstrap admin password

	// Payments
	Currency          string        // ISO currency for every order
	GatewayTimeout    time.Duration // Upper bound on a single provider call
	PendingTTL        time.Duration // Age after which a pending record may be superseded
	PublicBaseURL     string        // Externally reachable base URL of this service (callbacks, webhooks)
	FrontendReturnURL string        // Where providers send the viewer after checkout

	// Rate limits, requests per minute
	LoginRateLimit    int
	InitiateRateLimit int

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)

	Gateways Gateways
}

// Gateways holds per-provider credentials. A provider with incomplete
// credentials is simply not offered.
type Gateways struct {
	Razorpay  RazorpayConfig
	Cashfree  CashfreeConfig
	PayU      PayUConfig
	PhonePe   PhonePeConfig
	Instamojo InstamojoConfig
	Stripe    StripeConfig
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

func (c RazorpayConfig) Enabled() bool { return c.KeyID != "" && c.KeySecret != "" }

type CashfreeConfig struct {
	ClientID     string
	ClientSecret string
	APIVersion   string
	BaseURL      string
}

func (c CashfreeConfig) Enabled() bool { return c.ClientID != "" && c.ClientSecret != "" }

type PayUConfig struct {
	MerchantKey string
	Salt        string
	PaymentURL  string
}

func (c PayUConfig) Enabled() bool { return c.MerchantKey != "" && c.Salt != "" }

type PhonePeConfig struct {
	MerchantID string
	SaltKey    string
	SaltIndex  string
	BaseURL    string
}

func (c PhonePeConfig) Enabled() bool { return c.MerchantID != "" && c.SaltKey != "" }

type InstamojoConfig struct {
	APIKey      string
	AuthToken   string
	PrivateSalt string
	BaseURL     string
}

func (c InstamojoConfig) Enabled() bool {
	return c.APIKey != "" && c.AuthToken != "" && c.PrivateSalt != ""
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string // API override, used against test servers
}

func (c StripeConfig) Enabled() bool { return c.SecretKey != "" && c.WebhookSecret != "" }

// Default configuration values used when environment variables are not set
const (
	defaultPort           = "8080"
	defaultEnv            = "dev"
	defaultS3Region       = "us-east-1"
	defaultMongoDatabase  = "ott"
	defaultCurrency       = "INR"
	defaultJWTIssuer      = "climaxpay"
	defaultTokenTTL       = 24 * time.Hour
	defaultPlaybackTTL    = 2 * time.Hour
	defaultGatewayTimeout = 10 * time.Second
	defaultPendingTTL     = 30 * time.Minute
	defaultPublicBaseURL  = "http://localhost:8080"
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// Returns an error if required parameters are missing or invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:               getEnv("OTT_ENV", defaultEnv),
		Port:              getEnv("OTT_PORT", defaultPort),
		DatabaseDSN:       os.Getenv("OTT_DB_DSN"),
		MongoDatabase:     getEnv("OTT_MONGO_DATABASE", defaultMongoDatabase),
		NATSURL:           os.Getenv("OTT_NATS_URL"),
		RedisURL:          os.Getenv("OTT_REDIS_URL"),
		SentryDSN:         os.Getenv("OTT_SENTRY_DSN"),
		TraceExporter:     getEnv("OTT_TRACE_EXPORTER", "stdout"),
		S3Endpoint:        os.Getenv("OTT_S3_ENDPOINT"),
		S3Region:          getEnv("OTT_S3_REGION", defaultS3Region),
		S3Bucket:          os.Getenv("OTT_S3_BUCKET"),
		S3AccessKey:       os.Getenv("OTT_S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("OTT_S3_SECRET_KEY"),
		JWTSecret:         os.Getenv("OTT_JWT_SECRET"),
		JWTIssuer:         getEnv("OTT_JWT_ISSUER", defaultJWTIssuer),
		AdminEmail:        os.Getenv("OTT_ADMIN_EMAIL"),
		AdminPassword:     os.Getenv("OTT_ADMIN_PASSWORD"),
		Currency:          strings.ToUpper(getEnv("OTT_CURRENCY", defaultCurrency)),
		PublicBaseURL:     strings.TrimRight(getEnv("OTT_PUBLIC_BASE_URL", defaultPublicBaseURL), "/"),
		FrontendReturnURL: os.Getenv("OTT_FRONTEND_RETURN_URL"),
	}

	var err error
	if cfg.TokenTTL, err = getDuration("OTT_TOKEN_TTL", defaultTokenTTL); err != nil {
		return cfg, err
	}
	if cfg.PlaybackTTL, err = getDuration("OTT_PLAYBACK_URL_TTL", defaultPlaybackTTL); err != nil {
		return cfg, err
	}
	if cfg.GatewayTimeout, err = getDuration("OTT_GATEWAY_TIMEOUT", defaultGatewayTimeout); err != nil {
		return cfg, err
	}
	if cfg.PendingTTL, err = getDuration("OTT_PENDING_TTL", defaultPendingTTL); err != nil {
		return cfg, err
	}
	if cfg.TraceSampleRatio, err = getFloat("OTT_TRACE_SAMPLE_RATIO", 1); err != nil {
		return cfg, err
	}
	if cfg.LoginRateLimit, err = getInt("OTT_LOGIN_RATE_LIMIT", 10); err != nil {
		return cfg, err
	}
	if cfg.InitiateRateLimit, err = getInt("OTT_INITIATE_RATE_LIMIT", 20); err != nil {
		return cfg, err
	}

	if corsOrigins, exists := os.LookupEnv("OTT_CORS_ALLOWED_ORIGINS"); exists {
		for _, origin := range strings.Split(corsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
			}
		}
	}

	cfg.Gateways = Gateways{
		Razorpay: RazorpayConfig{
			KeyID:         os.Getenv("RAZORPAY_KEY_ID"),
			KeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
			WebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
			BaseURL:       getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
		},
		Cashfree: CashfreeConfig{
			ClientID:     os.Getenv("CASHFREE_CLIENT_ID"),
			ClientSecret: os.Getenv("CASHFREE_CLIENT_SECRET"),
			APIVersion:   getEnv("CASHFREE_API_VERSION", "2023-08-01"),
			BaseURL:      getEnv("CASHFREE_BASE_URL", "https://api.cashfree.com"),
		},
		PayU: PayUConfig{
			MerchantKey: os.Getenv("PAYU_MERCHANT_KEY"),
			Salt:        os.Getenv("PAYU_SALT"),
			PaymentURL:  getEnv("PAYU_PAYMENT_URL", "https://secure.payu.in/_payment"),
		},
		PhonePe: PhonePeConfig{
			MerchantID: os.Getenv("PHONEPE_MERCHANT_ID"),
			SaltKey:    os.Getenv("PHONEPE_SALT_KEY"),
			SaltIndex:  getEnv("PHONEPE_SALT_INDEX", "1"),
			BaseURL:    getEnv("PHONEPE_BASE_URL", "https://api.phonepe.com/apis/hermes"),
		},
		Instamojo: InstamojoConfig{
			APIKey:      os.Getenv("INSTAMOJO_API_KEY"),
			AuthToken:   os.Getenv("INSTAMOJO_AUTH_TOKEN"),
			PrivateSalt: os.Getenv("INSTAMOJO_PRIVATE_SALT"),
			BaseURL:     getEnv("INSTAMOJO_BASE_URL", "https://www.instamojo.com"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			BaseURL:       os.Getenv("STRIPE_BASE_URL"),
		},
	}

	// Validate required parameters
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("OTT_JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return cfg, fmt.Errorf("OTT_JWT_SECRET must be at least 16 bytes")
	}
	if cfg.TraceSampleRatio <= 0 || cfg.TraceSampleRatio > 1 {
		return cfg, fmt.Errorf("OTT_TRACE_SAMPLE_RATIO must be in (0, 1]")
	}
	if cfg.GatewayTimeout <= 0 {
		return cfg, fmt.Errorf("OTT_GATEWAY_TIMEOUT must be positive")
	}

	return cfg, nil
}

// Backend reports which store the DSN selects: "postgres", "mongo" or "memory".
func (c Config) Backend() string {
	switch {
	case strings.HasPrefix(c.DatabaseDSN, "postgres://"), strings.HasPrefix(c.DatabaseDSN, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(c.DatabaseDSN, "mongodb://"), strings.HasPrefix(c.DatabaseDSN, "mongodb+srv://"):
		return "mongo"
	default:
		return "memory"
	}
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
