// Package gateway adapts payment providers to one contract: create an order,
// and turn a signed provider notification into a canonical outcome.
//
// Every error an adapter returns is already an *errors.Error from the
// canonical taxonomy (signature, timeout, unavailable, failed), so nothing
// provider-specific leaks past this package.
package gateway

import (
	"context"
	"net/http"

	"github.com/reelgate/climaxpay-go/internal/model"
)

// Outcome is the canonical result a provider reports for a payment.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePending Outcome = "pending"
)

// OrderRequest is what an adapter needs to open a provider-side order.
type OrderRequest struct {
	TransactionID string
	UserID        string
	ContentID     string
	Title         string
	Amount        int64  // whole currency units
	Currency      string // ISO code, upper case
	Customer      model.Customer
	ReturnURL     string // where the viewer lands after checkout
	CallbackURL   string // browser-posted, signed result (PayU surl/furl, Razorpay checkout handler)
	WebhookURL    string // server-to-server notification
}

// AmountMinor returns the amount in the currency's minor unit.
func (r OrderRequest) AmountMinor() int64 { return r.Amount * 100 }

// Order tells the client how to continue with the provider.
type Order struct {
	OrderRef     string            // provider order/session id
	RedirectURL  string            // hosted checkout page, when the provider has one
	SessionToken string            // token for an embedded checkout SDK
	FormFields   map[string]string // fields to auto-post to RedirectURL
	KeyID        string            // public key the SDK needs
}

// Callback is a verified provider notification.
type Callback struct {
	TransactionID string  // our transaction id, when the provider echoes it
	OrderRef      string  // provider order id, used when TransactionID is absent
	ProviderRef   string  // provider payment id
	EventID       string  // stable id for dedup of redelivered notifications
	Outcome       Outcome // success, failure or pending
	AmountMinor   int64   // amount the provider reports, 0 when unknown
	RawStatus     string  // provider status string, for logs only
}

// Resolvable reports whether the callback names a payment.
func (c Callback) Resolvable() bool { return c.TransactionID != "" || c.OrderRef != "" }

// eventID scopes a dedup key to one transaction; providerRef may be empty.
func eventID(transactionID, providerRef, status string) string {
	if transactionID == "" {
		return ""
	}
	return transactionID + ":" + providerRef + ":" + status
}

// Adapter is implemented once per provider.
type Adapter interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	VerifyCallback(ctx context.Context, body []byte, header http.Header) (Callback, error)
}
