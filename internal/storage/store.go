// internal/storage/store.go
// Package storage provides implementations of the Store interface
// for in-memory, PostgreSQL and MongoDB storage backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/reelgate/climaxpay-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound    = errors.New("not found")          // Returned when a row or document is not found
	ErrConflict    = errors.New("conflict")           // Returned when a uniqueness constraint would be violated
	ErrStaleStatus = errors.New("status has changed") // Returned when a compare-and-set transition loses
)

// Store interface defines the storage operations required by the paywall service.
// The unique active (user, content) pair is enforced by every implementation,
// so concurrent purchase attempts cannot both persist.
type Store interface {
	// Catalog operations
	CreateContent(ctx context.Context, item model.ContentItem) error                         // Insert a new item; ErrConflict on duplicate id
	UpdateContent(ctx context.Context, item model.ContentItem) error                         // Replace an item; ErrNotFound when absent
	GetContent(ctx context.Context, id string) (*model.ContentItem, error)                   // Fetch by id regardless of isActive
	ListContents(ctx context.Context, query model.ContentQuery) ([]model.ContentItem, error) // Listing ordered by creation time, newest first

	// User operations
	CreateUser(ctx context.Context, user model.User) error                 // ErrConflict on duplicate email
	GetUserByEmail(ctx context.Context, email string) (*model.User, error) // Lookup for login
	GetUserByID(ctx context.Context, id string) (*model.User, error)       // Lookup for token subjects

	// Payment operations
	CreatePayment(ctx context.Context, record model.PaymentRecord) error                                           // Insert pending; ErrConflict on active pair or txn id
	GetPayment(ctx context.Context, transactionID string) (*model.PaymentRecord, error)                            // Lookup by transaction id
	GetPaymentByOrderRef(ctx context.Context, gateway, orderRef string) (*model.PaymentRecord, error)              // Lookup by provider order id
	SetPaymentOrderRef(ctx context.Context, transactionID, orderRef string) error                                  // Attach provider order id
	FindActivePayment(ctx context.Context, userID, contentID string) (*model.PaymentRecord, error)                 // The pending or approved record for a pair
	TransitionPayment(ctx context.Context, transactionID string, t model.Transition) (*model.PaymentRecord, error) // Compare-and-set; ErrStaleStatus returns the current record
	ListPayments(ctx context.Context, query model.PaymentQuery) ([]model.PaymentRecord, error)                     // Newest first
	CountPaymentsForContent(ctx context.Context, contentID string) (int, error)                                    // Any status

	// Webhook dedup; ErrConflict when the event was already processed
	WebhookProcessed(ctx context.Context, gateway, eventID string) (bool, error)
	MarkWebhookProcessed(ctx context.Context, gateway, eventID string) error

	// Idempotency operations
	StoreIdempotentResponse(ctx context.Context, keyHash string, responseBody []byte, statusCode int, expiresAt time.Time) error // Store idempotent response
	GetIdempotentResponse(ctx context.Context, keyHash string) ([]byte, int, error)                                              // Get cached idempotent response

	Ping(ctx context.Context) error // Readiness probe
	Close()
}

// IdempotentResponse represents a cached idempotent response
type IdempotentResponse struct {
	ResponseBody []byte    // Cached response body
	StatusCode   int       // HTTP status code
	ExpiresAt    time.Time // When the entry expires
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func containsStatus(list []model.PaymentStatus, s model.PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// applyTransition mutates rec to reflect t at now.
func applyTransition(rec *model.PaymentRecord, t model.Transition, now time.Time) {
	rec.Status = t.To
	rec.UpdatedAt = now
	if t.To == model.StatusDeclined {
		rec.Reason = t.Reason
	}
	if t.ProviderRef != "" {
		rec.ProviderRef = t.ProviderRef
	}
	if t.To != model.StatusPending {
		confirmed := now
		rec.ConfirmedAt = &confirmed
	}
}
