// Package conformance provides a test harness that drives the paywall end to
// end over HTTP: a real server on memory storage, a fake Razorpay order API,
// and the reference playback gate talking to the server through its client.
package conformance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/reelgate/climaxpay-go/internal/auth"
	"github.com/reelgate/climaxpay-go/internal/catalog"
	"github.com/reelgate/climaxpay-go/internal/config"
	"github.com/reelgate/climaxpay-go/internal/gateway"
	"github.com/reelgate/climaxpay-go/internal/media"
	"github.com/reelgate/climaxpay-go/internal/metrics"
	"github.com/reelgate/climaxpay-go/internal/model"
	"github.com/reelgate/climaxpay-go/internal/payment"
	"github.com/reelgate/climaxpay-go/internal/server"
	"github.com/reelgate/climaxpay-go/internal/storage"
)

// Harness provides a test harness for end-to-end paywall testing.
type Harness struct {
	server   *httptest.Server
	provider *httptest.Server
	store    storage.Store
	cfg      Config
	orders   atomic.Int64
}

// Config holds configuration for the conformance test harness.
type Config struct {
	// Razorpay credentials shared by the service and the fake provider.
	KeyID         string
	KeySecret     string
	WebhookSecret string

	// Seeded accounts
	ViewerEmail    string
	ViewerPassword string
	AdminEmail     string
	AdminPassword  string
}

// DefaultConfig returns credentials suitable for local runs.
func DefaultConfig() Config {
	return Config{
		KeyID:          "rzp_test_key",
		KeySecret:      "rzp_test_secret",
		WebhookSecret:  "rzp_test_webhook",
		ViewerEmail:    "viewer@example.com",
		ViewerPassword: "viewer-password",
		AdminEmail:     "admin@example.com",
		AdminPassword:  "admin-password",
	}
}

// NewHarness starts the fake provider and the service.
func NewHarness(cfg Config) (*Harness, error) {
	h := &Harness{cfg: cfg, store: storage.NewMemory()}

	h.provider = httptest.NewServer(http.HandlerFunc(h.serveOrders))

	for _, acct := range []struct {
		email, password string
		role            model.Role
	}{
		{cfg.ViewerEmail, cfg.ViewerPassword, model.RoleUser},
		{cfg.AdminEmail, cfg.AdminPassword, model.RoleAdmin},
	} {
		hash, err := auth.HashPassword(acct.password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		if err := h.store.CreateUser(context.Background(), model.User{
			ID: "usr_" + string(acct.role), Email: acct.email, PasswordHash: hash, Role: acct.role, CreatedAt: time.Now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("seed user: %w", err)
		}
	}

	rp := gateway.NewRazorpay(config.RazorpayConfig{
		KeyID:         cfg.KeyID,
		KeySecret:     cfg.KeySecret,
		WebhookSecret: cfg.WebhookSecret,
		BaseURL:       h.provider.URL,
	}, h.provider.Client())

	m := metrics.NewMetrics()
	handler := server.NewMux(server.Deps{
		Store:   h.store,
		Catalog: catalog.NewService(h.store, media.Passthrough{}, nil),
		Payments: payment.NewService(h.store, gateway.NewRegistry(rp), nil, m, payment.Options{
			GatewayTimeout: 5 * time.Second,
		}),
		Issuer:            auth.NewIssuer("conformance-secret-key", "climaxpay", time.Hour),
		Metrics:           m,
		InitiateRateLimit: 100,
		LoginRateLimit:    100,
	})
	h.server = httptest.NewServer(handler)
	return h, nil
}

// serveOrders answers the Razorpay Orders API with a fresh order id.
func (h *Harness) serveOrders(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != h.cfg.KeyID || pass != h.cfg.KeySecret || r.URL.Path != "/v1/orders" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`)
		return
	}
	var req struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Receipt  string `json:"receipt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	n := h.orders.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id": fmt.Sprintf("order_%d", n), "amount": req.Amount, "currency": req.Currency,
		"receipt": req.Receipt, "status": "created",
	})
}

// URL returns the base URL of the service.
func (h *Harness) URL() string {
	return h.server.URL
}

// Store exposes the backing store for assertions.
func (h *Harness) Store() storage.Store {
	return h.store
}

// Close shuts down both servers.
func (h *Harness) Close() {
	h.server.Close()
	h.provider.Close()
}

// CapturedWebhook builds a signed payment.captured webhook for an order.
func (h *Harness) CapturedWebhook(transactionID, orderID, paymentID string, amountMinor int64) (body []byte, signature string) {
	body = []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":%d,"status":"captured","notes":{"transaction_id":%q}}}}}`,
		paymentID, orderID, amountMinor, transactionID))
	return body, h.Sign(body)
}

// Sign computes the Razorpay webhook signature for body.
func (h *Harness) Sign(body []byte) string {
	return hmacHex(h.cfg.WebhookSecret, string(body))
}

func hmacHex(secret, msg string) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}
