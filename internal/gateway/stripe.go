package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/reelgate/climaxpay-go/internal/config"
	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
)

// Stripe opens Checkout Sessions and verifies Stripe-Signature webhooks.
type Stripe struct {
	cfg config.StripeConfig
	sc  *client.API
}

// NewStripe builds a per-adapter API client on the shared HTTP client so
// provider timeouts apply, and never lets the SDK retry on its own.
func NewStripe(cfg config.StripeConfig, hc *http.Client) *Stripe {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        hc,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return &Stripe{cfg: cfg, sc: sc}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	title := req.Title
	if title == "" {
		title = req.ContentID
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.TransactionID),
		SuccessURL:        stripe.String(req.ReturnURL + querySep(req.ReturnURL) + "transactionId=" + req.TransactionID),
		CancelURL:         stripe.String(req.ReturnURL + querySep(req.ReturnURL) + "transactionId=" + req.TransactionID + "&cancelled=1"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.AmountMinor()),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(title),
				},
			},
		}},
	}
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}
	params.Context = ctx
	params.AddMetadata("transaction_id", req.TransactionID)
	params.AddMetadata("content_id", req.ContentID)
	params.AddMetadata("user_id", req.UserID)

	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return Order{}, s.classify(err)
	}
	return Order{OrderRef: sess.ID, RedirectURL: sess.URL, SessionToken: sess.ID}, nil
}

func (s *Stripe) classify(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == http.StatusTooManyRequests {
			return errordefs.GatewayUnavailable(s.Name(), err)
		}
		return errordefs.GatewayFailed(s.Name(), err)
	}
	return classifyTransport(s.Name(), err)
}

func (s *Stripe) VerifyCallback(ctx context.Context, body []byte, header http.Header) (Callback, error) {
	event, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Callback{}, errordefs.Signature(s.Name(), err)
	}

	cb := Callback{EventID: event.ID, RawStatus: string(event.Type), Outcome: OutcomePending}
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
	default:
		// Unrelated events are acknowledged without naming a payment.
		return cb, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return Callback{}, errordefs.Validation("data", err.Error())
	}
	cb.TransactionID = sess.ClientReferenceID
	if cb.TransactionID == "" {
		cb.TransactionID = sess.Metadata["transaction_id"]
	}
	cb.OrderRef = sess.ID
	cb.AmountMinor = sess.AmountTotal
	if sess.PaymentIntent != nil {
		cb.ProviderRef = sess.PaymentIntent.ID
	}

	switch event.Type {
	case "checkout.session.completed":
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			cb.Outcome = OutcomeSuccess
		}
	case "checkout.session.async_payment_succeeded":
		cb.Outcome = OutcomeSuccess
	default:
		cb.Outcome = OutcomeFailure
	}
	return cb, nil
}
