// internal/model/payment.go
package model

import (
	"time"
)

// PaymentStatus is the lifecycle state of a PaymentRecord.
type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusApproved PaymentStatus = "approved"
	StatusDeclined PaymentStatus = "declined"
)

// Active reports whether the status occupies the (user, content) slot.
func (s PaymentStatus) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// Valid reports whether s is one of the three canonical statuses.
func (s PaymentStatus) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusDeclined
}

// Decline reasons recorded on declined payments.
const (
	ReasonProviderFailure = "provider_failure"
	ReasonExpired         = "expired"
	ReasonGatewayError    = "gateway_error"
	ReasonAdminRejected   = "admin_rejected"
)

// PaymentRecord is the persisted unlock fact for one purchase attempt.
// This corresponds to the payments table (or collection) in storage.
type PaymentRecord struct {
	ID            string        `json:"id" db:"id" bson:"_id"`                                                // Internal identifier
	TransactionID string        `json:"transactionId" db:"transaction_id" bson:"transactionId"`               // Service-minted id shared with the provider
	UserID        string        `json:"userId" db:"user_id" bson:"userId"`                                    // Purchaser
	ContentID     string        `json:"contentId" db:"content_id" bson:"contentId"`                           // Purchased content
	Amount        int64         `json:"amount" db:"amount" bson:"amount"`                                     // Whole currency units
	Currency      string        `json:"currency" db:"currency" bson:"currency"`                               // ISO currency
	Status        PaymentStatus `json:"status" db:"status" bson:"status"`                                     // pending, approved or declined
	Gateway       string        `json:"gateway" db:"gateway" bson:"gateway"`                                  // Provider adapter name
	OrderRef      string        `json:"orderRef,omitempty" db:"order_ref" bson:"orderRef,omitempty"`          // Provider order or session id
	ProviderRef   string        `json:"providerRef,omitempty" db:"provider_ref" bson:"providerRef,omitempty"` // Provider payment id
	Reason        string        `json:"reason,omitempty" db:"reason" bson:"reason,omitempty"`                 // Why the record was declined
	CreatedAt     time.Time     `json:"createdAt" db:"created_at" bson:"createdAt"`                           // When the attempt started
	UpdatedAt     time.Time     `json:"updatedAt" db:"updated_at" bson:"updatedAt"`                           // Last status change
	ConfirmedAt   *time.Time    `json:"confirmedAt,omitempty" db:"confirmed_at" bson:"confirmedAt,omitempty"` // When a terminal status was reached
}

// Transition describes a compare-and-set status change.
type Transition struct {
	From        []PaymentStatus // Statuses the record must currently hold
	To          PaymentStatus   // Target status
	Reason      string          // Decline reason, empty for approvals
	ProviderRef string          // Provider payment id, kept when empty
}

// PaymentQuery filters payment listings.
type PaymentQuery struct {
	UserID    string
	ContentID string
	Status    PaymentStatus
	Limit     int
}

// InitiateRequest starts a purchase attempt.
type InitiateRequest struct {
	UserID    string   `json:"userId" validate:"required,max=64"`
	ContentID string   `json:"contentId" validate:"required,max=64"`
	Amount    int64    `json:"amount" validate:"gte=0"`
	Gateway   string   `json:"gateway" validate:"required,max=32"`
	Customer  Customer `json:"customer"`
}

// Customer carries the payer details some providers insist on.
type Customer struct {
	Name  string `json:"name,omitempty" validate:"max=100"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty" validate:"max=20"`
}

// InitiateResponse tells the client how to continue with the provider.
type InitiateResponse struct {
	TransactionID string            `json:"transactionId"`
	AlreadyPaid   bool              `json:"alreadyPaid"`
	Gateway       string            `json:"gateway,omitempty"`
	RedirectURL   string            `json:"redirectUrl,omitempty"`
	SessionToken  string            `json:"sessionToken,omitempty"`
	FormFields    map[string]string `json:"formFields,omitempty"`
	KeyID         string            `json:"keyId,omitempty"`
}

// CheckResponse is the unlock answer.
type CheckResponse struct {
	Paid bool `json:"paid"`
}

// CallbackResponse acknowledges a processed provider notification.
type CallbackResponse struct {
	Processed     bool          `json:"processed"`
	TransactionID string        `json:"transactionId,omitempty"`
	Status        PaymentStatus `json:"status,omitempty"`
	Duplicate     bool          `json:"duplicate,omitempty"`
}
