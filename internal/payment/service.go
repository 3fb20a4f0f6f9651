// Package payment owns the payment record lifecycle: starting a purchase with
// a provider, applying verified provider outcomes, and answering whether a
// viewer has unlocked a title.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/event"
	"github.com/reelgate/climaxpay-go/internal/gateway"
	"github.com/reelgate/climaxpay-go/internal/metrics"
	"github.com/reelgate/climaxpay-go/internal/model"
	"github.com/reelgate/climaxpay-go/internal/storage"
	"github.com/reelgate/climaxpay-go/internal/telemetry"
)

var tracer = otel.Tracer("climaxpay/payment")

// Options carries the settings the service reads from config.
type Options struct {
	Currency       string
	GatewayTimeout time.Duration
	PendingTTL     time.Duration
	PublicBaseURL  string
	ReturnURL      string
}

// Service implements the payment lifecycle on top of a Store.
type Service struct {
	store    storage.Store
	gateways *gateway.Registry
	events   event.Publisher
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

// NewService wires the lifecycle. A nil publisher discards events.
func NewService(store storage.Store, gateways *gateway.Registry, events event.Publisher, m *metrics.Metrics, opts Options) *Service {
	if events == nil {
		events = event.Noop{}
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 30 * time.Minute
	}
	if opts.ReturnURL == "" {
		opts.ReturnURL = opts.PublicBaseURL + "/payments/return"
	}
	return &Service{
		store:    store,
		gateways: gateways,
		events:   events,
		metrics:  m,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Gateways lists the configured provider names.
func (s *Service) Gateways() []string { return s.gateways.Names() }

// Initiate opens a purchase attempt for (user, content) with the chosen provider.
func (s *Service) Initiate(ctx context.Context, req model.InitiateRequest) (*model.InitiateResponse, error) {
	ctx, span := tracer.Start(ctx, "payment.Initiate")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("content_id", req.ContentID),
		attribute.String("gateway", req.Gateway),
	)

	resp, err := s.initiate(ctx, req)
	result := "ok"
	switch {
	case err != nil:
		result = string(errordefs.From(err).Code)
		span.SetStatus(codes.Error, result)
	case resp.AlreadyPaid:
		result = "already_paid"
	}
	s.metrics.PaymentInitiateTotal.WithLabelValues(req.Gateway, result).Inc()
	return resp, err
}

func (s *Service) initiate(ctx context.Context, req model.InitiateRequest) (*model.InitiateResponse, error) {
	logger := telemetry.LoggerFrom(ctx)

	if err := model.Validate(req); err != nil {
		return nil, err
	}

	item, err := s.store.GetContent(ctx, req.ContentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("content not found")
		}
		return nil, fmt.Errorf("load content: %w", err)
	}
	// An approved owner is answered before the catalog checks, so a
	// deactivated item or a stale amount still reports alreadyPaid.
	existing, err := s.store.FindActivePayment(ctx, req.UserID, req.ContentID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("find active payment: %w", err)
	case existing.Status == model.StatusApproved:
		return &model.InitiateResponse{TransactionID: existing.TransactionID, AlreadyPaid: true, Gateway: existing.Gateway}, nil
	}

	if !item.IsActive {
		return nil, errordefs.NotFound("content not found")
	}
	if item.Free() {
		return nil, errordefs.Validation("amount", "content is free to watch")
	}
	if req.Amount != item.PremiumPrice {
		return nil, errordefs.Validation("amount", fmt.Sprintf("amount must equal the premium price %d", item.PremiumPrice))
	}

	adapter, err := s.gateways.Get(req.Gateway)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if s.now().Sub(existing.CreatedAt) < s.opts.PendingTTL {
			return nil, errordefs.Conflict("payment already in progress").
				WithDetail("transactionId", existing.TransactionID)
		}
		// Abandoned attempt; release the slot.
		if _, err := s.transition(ctx, existing, model.Transition{
			From:   []model.PaymentStatus{model.StatusPending},
			To:     model.StatusDeclined,
			Reason: model.ReasonExpired,
		}); err != nil && !errors.Is(err, storage.ErrStaleStatus) {
			return nil, err
		}
		logger.Info("expired abandoned payment", "transaction_id", existing.TransactionID)
	}

	now := s.now()
	txn := "txn_" + ulid.Make().String()
	rec := model.PaymentRecord{
		ID:            txn,
		TransactionID: txn,
		UserID:        req.UserID,
		ContentID:     req.ContentID,
		Amount:        req.Amount,
		Currency:      s.opts.Currency,
		Status:        model.StatusPending,
		Gateway:       adapter.Name(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreatePayment(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, errordefs.Conflict("payment already in progress")
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	order, err := s.createOrder(ctx, adapter, item, rec, req.Customer)
	if err != nil {
		logger.Warn("gateway order failed", "gateway", adapter.Name(), "transaction_id", txn, "error", err)
		if _, terr := s.transition(ctx, &rec, model.Transition{
			From:   []model.PaymentStatus{model.StatusPending},
			To:     model.StatusDeclined,
			Reason: model.ReasonGatewayError,
		}); terr != nil {
			logger.Error("failed to decline payment after gateway error", "transaction_id", txn, "error", terr)
		}
		return nil, errordefs.From(err).WithDetail("availableGateways", s.gateways.Names())
	}

	if order.OrderRef != "" {
		if err := s.store.SetPaymentOrderRef(ctx, txn, order.OrderRef); err != nil {
			return nil, fmt.Errorf("store order reference: %w", err)
		}
		rec.OrderRef = order.OrderRef
	}
	s.publish(ctx, event.PaymentInitiated, rec)
	logger.Info("payment initiated", "transaction_id", txn, "gateway", adapter.Name(), "content_id", req.ContentID)

	return &model.InitiateResponse{
		TransactionID: txn,
		Gateway:       adapter.Name(),
		RedirectURL:   order.RedirectURL,
		SessionToken:  order.SessionToken,
		FormFields:    order.FormFields,
		KeyID:         order.KeyID,
	}, nil
}

func (s *Service) createOrder(ctx context.Context, adapter gateway.Adapter, item *model.ContentItem, rec model.PaymentRecord, customer model.Customer) (gateway.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "gateway.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("gateway", adapter.Name()))

	start := time.Now()
	order, err := adapter.CreateOrder(ctx, gateway.OrderRequest{
		TransactionID: rec.TransactionID,
		UserID:        rec.UserID,
		ContentID:     rec.ContentID,
		Title:         item.Title,
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		Customer:      customer,
		ReturnURL:     s.opts.ReturnURL,
		CallbackURL:   fmt.Sprintf("%s/payments/%s/callback", s.opts.PublicBaseURL, adapter.Name()),
		WebhookURL:    fmt.Sprintf("%s/payments/%s/webhook", s.opts.PublicBaseURL, adapter.Name()),
	})
	result := "ok"
	if err != nil {
		result = string(errordefs.From(err).Code)
		span.SetStatus(codes.Error, result)
	}
	s.metrics.GatewayRequestDuration.WithLabelValues(adapter.Name(), "create_order", result).Observe(time.Since(start).Seconds())
	return order, err
}

// Confirm applies a verified provider outcome to the record. Repeated or
// out-of-order outcomes never move a record out of a terminal status.
func (s *Service) Confirm(ctx context.Context, transactionID string, cb gateway.Callback) (*model.PaymentRecord, error) {
	ctx, span := tracer.Start(ctx, "payment.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("transaction_id", transactionID), attribute.String("outcome", string(cb.Outcome)))

	rec, err := s.store.GetPayment(ctx, transactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("payment not found")
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if cb.AmountMinor != 0 && cb.AmountMinor != rec.Amount*100 {
		span.SetStatus(codes.Error, "amount mismatch")
		telemetry.CaptureMessage("callback amount mismatch", sentry.LevelWarning, map[string]string{
			"gateway": rec.Gateway, "transaction_id": rec.TransactionID,
		})
		return nil, errordefs.Validation("amount", "reported amount does not match the payment").
			WithDetail("expectedMinor", rec.Amount*100).
			WithDetail("reportedMinor", cb.AmountMinor)
	}

	switch cb.Outcome {
	case gateway.OutcomeSuccess:
		if rec.Status == model.StatusDeclined {
			// Money moved for a record we already gave up on.
			telemetry.LoggerFrom(ctx).Warn("success reported for declined payment",
				"transaction_id", rec.TransactionID, "gateway", rec.Gateway, "reason", rec.Reason)
			telemetry.CaptureMessage("success callback for declined payment", sentry.LevelWarning, map[string]string{
				"gateway": rec.Gateway, "transaction_id": rec.TransactionID, "provider_ref": cb.ProviderRef,
			})
			return rec, nil
		}
		return s.transition(ctx, rec, model.Transition{
			From:        []model.PaymentStatus{model.StatusPending},
			To:          model.StatusApproved,
			ProviderRef: cb.ProviderRef,
		})
	case gateway.OutcomeFailure:
		return s.transition(ctx, rec, model.Transition{
			From:        []model.PaymentStatus{model.StatusPending},
			To:          model.StatusDeclined,
			Reason:      model.ReasonProviderFailure,
			ProviderRef: cb.ProviderRef,
		})
	default:
		return rec, nil
	}
}

// transition applies t with compare-and-set. A lost race, or a record that
// already left the From statuses, returns the current record without error.
func (s *Service) transition(ctx context.Context, rec *model.PaymentRecord, t model.Transition) (*model.PaymentRecord, error) {
	if !containsStatus(t.From, rec.Status) {
		return rec, nil
	}
	updated, err := s.store.TransitionPayment(ctx, rec.TransactionID, t)
	switch {
	case errors.Is(err, storage.ErrStaleStatus):
		return updated, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, errordefs.NotFound("payment not found")
	case errors.Is(err, storage.ErrConflict):
		return nil, errordefs.Conflict("another payment is active for this content")
	case err != nil:
		return nil, fmt.Errorf("transition payment: %w", err)
	}

	s.metrics.PaymentTransitionTotal.WithLabelValues(updated.Gateway, string(updated.Status), updated.Reason).Inc()
	telemetry.LoggerFrom(ctx).Info("payment status changed",
		"transaction_id", updated.TransactionID,
		"from", string(rec.Status),
		"to", string(updated.Status),
		"reason", updated.Reason,
	)
	if updated.Status == model.StatusApproved {
		s.publish(ctx, event.PaymentApproved, *updated)
	} else {
		s.publish(ctx, event.PaymentDeclined, *updated)
	}
	return updated, nil
}

// HandleCallback verifies a provider notification and applies it. Nothing
// is read from or written to the store before the signature verifies.
func (s *Service) HandleCallback(ctx context.Context, gatewayName string, body []byte, header http.Header) (*model.CallbackResponse, error) {
	ctx, span := tracer.Start(ctx, "payment.HandleCallback")
	defer span.End()
	span.SetAttributes(attribute.String("gateway", gatewayName))

	resp, err := s.handleCallback(ctx, gatewayName, body, header)
	result := "processed"
	switch {
	case err != nil:
		result = string(errordefs.From(err).Code)
		span.SetStatus(codes.Error, result)
	case resp.Duplicate:
		result = "duplicate"
	case !resp.Processed:
		result = "ignored"
	}
	s.metrics.CallbackTotal.WithLabelValues(gatewayName, result).Inc()
	return resp, err
}

func (s *Service) handleCallback(ctx context.Context, gatewayName string, body []byte, header http.Header) (*model.CallbackResponse, error) {
	logger := telemetry.LoggerFrom(ctx).With(slog.String("gateway", gatewayName))

	adapter, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, errordefs.NotFound("unknown gateway")
	}
	cb, err := adapter.VerifyCallback(ctx, body, header)
	if err != nil {
		logger.Warn("callback rejected", "error", err)
		return nil, err
	}
	if !cb.Resolvable() {
		logger.Info("callback does not name a payment", "status", cb.RawStatus)
		return &model.CallbackResponse{Processed: false}, nil
	}

	if cb.EventID != "" {
		seen, err := s.store.WebhookProcessed(ctx, adapter.Name(), cb.EventID)
		if err != nil {
			return nil, fmt.Errorf("check webhook event: %w", err)
		}
		if seen {
			logger.Info("duplicate callback", "event_id", cb.EventID)
			return &model.CallbackResponse{Processed: true, Duplicate: true, TransactionID: cb.TransactionID}, nil
		}
	}

	rec, err := s.resolve(ctx, adapter.Name(), cb)
	if err != nil {
		return nil, err
	}
	updated, err := s.Confirm(ctx, rec.TransactionID, cb)
	if err != nil {
		return nil, err
	}

	if cb.EventID != "" {
		if err := s.store.MarkWebhookProcessed(ctx, adapter.Name(), cb.EventID); err != nil && !errors.Is(err, storage.ErrConflict) {
			logger.Warn("failed to record webhook event", "event_id", cb.EventID, "error", err)
		}
	}
	return &model.CallbackResponse{Processed: true, TransactionID: updated.TransactionID, Status: updated.Status}, nil
}

// resolve finds the record a callback refers to, by transaction id first and
// provider order reference second.
func (s *Service) resolve(ctx context.Context, gatewayName string, cb gateway.Callback) (*model.PaymentRecord, error) {
	if cb.TransactionID != "" {
		rec, err := s.store.GetPayment(ctx, cb.TransactionID)
		if err == nil {
			if rec.Gateway != gatewayName {
				return nil, errordefs.Validation("transactionId", "payment belongs to another gateway")
			}
			return rec, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load payment: %w", err)
		}
	}
	if cb.OrderRef != "" {
		rec, err := s.store.GetPaymentByOrderRef(ctx, gatewayName, cb.OrderRef)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load payment by order: %w", err)
		}
	}
	return nil, errordefs.NotFound("payment not found")
}

// CheckUnlocked reports whether userID holds an approved payment for contentID.
func (s *Service) CheckUnlocked(ctx context.Context, userID, contentID string) (bool, error) {
	if userID == "" {
		return false, errordefs.Validation("userId", "is required")
	}
	if contentID == "" {
		return false, errordefs.Validation("contentId", "is required")
	}
	rec, err := s.store.FindActivePayment(ctx, userID, contentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("find active payment: %w", err)
	}
	return rec.Status == model.StatusApproved, nil
}

// Get returns one payment record.
func (s *Service) Get(ctx context.Context, transactionID string) (*model.PaymentRecord, error) {
	rec, err := s.store.GetPayment(ctx, transactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("payment not found")
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return rec, nil
}

// Reject declines a pending payment on an operator's request.
func (s *Service) Reject(ctx context.Context, transactionID string) (*model.PaymentRecord, error) {
	rec, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case model.StatusApproved:
		return nil, errordefs.Conflict("approved payments cannot be rejected")
	case model.StatusDeclined:
		return rec, nil
	}
	updated, err := s.transition(ctx, rec, model.Transition{
		From:   []model.PaymentStatus{model.StatusPending},
		To:     model.StatusDeclined,
		Reason: model.ReasonAdminRejected,
	})
	if err != nil {
		return nil, err
	}
	if updated.Status == model.StatusApproved {
		return nil, errordefs.Conflict("approved payments cannot be rejected")
	}
	return updated, nil
}

// ListPayments returns records matching query, newest first.
func (s *Service) ListPayments(ctx context.Context, query model.PaymentQuery) ([]model.PaymentRecord, error) {
	if query.Status != "" && !query.Status.Valid() {
		return nil, errordefs.Validation("status", "must be pending, approved or declined")
	}
	return s.store.ListPayments(ctx, query)
}

// PurchasedContent lists the content ids userID has unlocked.
func (s *Service) PurchasedContent(ctx context.Context, userID string) ([]string, error) {
	recs, err := s.store.ListPayments(ctx, model.PaymentQuery{UserID: userID, Status: model.StatusApproved, Limit: 1000})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ContentID)
	}
	return ids, nil
}

// HasPaymentFor reports whether userID has any payment record for contentID.
func (s *Service) HasPaymentFor(ctx context.Context, userID, contentID string) (bool, error) {
	recs, err := s.store.ListPayments(ctx, model.PaymentQuery{UserID: userID, ContentID: contentID, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

func (s *Service) publish(ctx context.Context, eventType string, rec model.PaymentRecord) {
	status := "ok"
	if err := s.events.PublishPayment(ctx, eventType, rec); err != nil {
		status = "error"
		telemetry.LoggerFrom(ctx).Warn("failed to publish payment event",
			"event_type", eventType, "transaction_id", rec.TransactionID, "error", err)
	}
	s.metrics.EventPublishTotal.WithLabelValues(eventType, status).Inc()
}

func containsStatus(set []model.PaymentStatus, s model.PaymentStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
