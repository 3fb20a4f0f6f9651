package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/reelgate/climaxpay-go/internal/config"
	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/schema"
)

// Razorpay uses the Orders API with the embedded Checkout SDK.
type Razorpay struct {
	cfg config.RazorpayConfig
	c   caller
}

func NewRazorpay(cfg config.RazorpayConfig, hc *http.Client) *Razorpay {
	return &Razorpay{cfg: cfg, c: caller{gateway: "razorpay", hc: hc}}
}

func (r *Razorpay) Name() string { return "razorpay" }

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	body, err := json.Marshal(map[string]any{
		"amount":   req.AmountMinor(),
		"currency": req.Currency,
		"receipt":  req.TransactionID,
		"notes": map[string]string{
			"transaction_id": req.TransactionID,
			"content_id":     req.ContentID,
			"user_id":        req.UserID,
		},
	})
	if err != nil {
		return Order{}, errordefs.GatewayFailed(r.Name(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, errordefs.GatewayFailed(r.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)

	var out razorpayOrder
	if err := r.c.do(httpReq, schema.RazorpayOrder, &out); err != nil {
		return Order{}, err
	}
	return Order{OrderRef: out.ID, SessionToken: out.ID, KeyID: r.cfg.KeyID}, nil
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity struct {
				ID      string          `json:"id"`
				OrderID string          `json:"order_id"`
				Amount  int64           `json:"amount"`
				Status  string          `json:"status"`
				Notes   json.RawMessage `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity struct {
				ID      string `json:"id"`
				Receipt string `json:"receipt"`
				Amount  int64  `json:"amount"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// VerifyCallback accepts both the server webhook (JSON, X-Razorpay-Signature
// over the raw body with the webhook secret) and the Checkout handler post
// (form fields signed as order_id|payment_id with the key secret).
func (r *Razorpay) VerifyCallback(ctx context.Context, body []byte, header http.Header) (Callback, error) {
	if sig := header.Get("X-Razorpay-Signature"); sig != "" {
		return r.verifyWebhook(body, sig, header.Get("X-Razorpay-Event-Id"))
	}
	return r.verifyCheckout(body)
}

func (r *Razorpay) verifyWebhook(body []byte, sig, eventID string) (Callback, error) {
	if r.cfg.WebhookSecret == "" {
		return Callback{}, errordefs.Signature(r.Name(), errors.New("webhook secret not configured"))
	}
	if !equalHex(sig, hmacSHA256Hex(r.cfg.WebhookSecret, string(body))) {
		return Callback{}, errordefs.Signature(r.Name(), errors.New("signature mismatch"))
	}
	if err := schema.Default().Validate(schema.RazorpayWebhook, body); err != nil {
		return Callback{}, errordefs.Validation("payload", err.Error())
	}

	var wh razorpayWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return Callback{}, errordefs.Validation("payload", err.Error())
	}

	cb := Callback{EventID: eventID, RawStatus: wh.Event, Outcome: razorpayOutcome(wh.Event)}
	if p := wh.Payload.Payment; p != nil {
		cb.OrderRef = p.Entity.OrderID
		cb.ProviderRef = p.Entity.ID
		cb.AmountMinor = p.Entity.Amount
		var notes map[string]string
		if json.Unmarshal(p.Entity.Notes, &notes) == nil {
			cb.TransactionID = notes["transaction_id"]
		}
	}
	if o := wh.Payload.Order; o != nil {
		cb.OrderRef = o.Entity.ID
		if cb.TransactionID == "" {
			cb.TransactionID = o.Entity.Receipt
		}
		if cb.AmountMinor == 0 {
			cb.AmountMinor = o.Entity.Amount
		}
	}
	if cb.EventID == "" && cb.ProviderRef != "" {
		cb.EventID = cb.ProviderRef + ":" + wh.Event
	}
	return cb, nil
}

func (r *Razorpay) verifyCheckout(body []byte) (Callback, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return Callback{}, errordefs.Signature(r.Name(), fmt.Errorf("unparseable callback: %w", err))
	}
	orderID := form.Get("razorpay_order_id")
	paymentID := form.Get("razorpay_payment_id")
	sig := form.Get("razorpay_signature")
	if orderID == "" || paymentID == "" || sig == "" {
		return Callback{}, errordefs.Signature(r.Name(), errors.New("unsigned checkout callback"))
	}
	if !equalHex(sig, hmacSHA256Hex(r.cfg.KeySecret, orderID+"|"+paymentID)) {
		return Callback{}, errordefs.Signature(r.Name(), errors.New("signature mismatch"))
	}
	return Callback{
		OrderRef:    orderID,
		ProviderRef: paymentID,
		EventID:     paymentID + ":checkout",
		Outcome:     OutcomeSuccess,
		RawStatus:   "checkout.success",
	}, nil
}

func razorpayOutcome(event string) Outcome {
	switch strings.ToLower(event) {
	case "payment.captured", "order.paid":
		return OutcomeSuccess
	case "payment.failed":
		return OutcomeFailure
	default:
		return OutcomePending
	}
}
