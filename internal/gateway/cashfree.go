package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/reelgate/climaxpay-go/internal/config"
	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/schema"
)

// Cashfree uses PG Orders with a payment session consumed by the Cashfree JS SDK.
type Cashfree struct {
	cfg config.CashfreeConfig
	c   caller
}

func NewCashfree(cfg config.CashfreeConfig, hc *http.Client) *Cashfree {
	return &Cashfree{cfg: cfg, c: caller{gateway: "cashfree", hc: hc}}
}

func (c *Cashfree) Name() string { return "cashfree" }

type cashfreeOrder struct {
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
}

func (c *Cashfree) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	phone := req.Customer.Phone
	if phone == "" {
		phone = "9999999999"
	}
	returnURL := req.ReturnURL
	if returnURL != "" {
		returnURL += querySep(returnURL) + "transactionId={order_id}"
	}
	body, err := json.Marshal(map[string]any{
		"order_id":       req.TransactionID,
		"order_amount":   float64(req.Amount),
		"order_currency": req.Currency,
		"order_note":     req.Title,
		"customer_details": map[string]string{
			"customer_id":    req.UserID,
			"customer_phone": phone,
			"customer_email": req.Customer.Email,
			"customer_name":  req.Customer.Name,
		},
		"order_meta": map[string]string{
			"return_url": returnURL,
			"notify_url": req.WebhookURL,
		},
	})
	if err != nil {
		return Order{}, errordefs.GatewayFailed(c.Name(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/pg/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, errordefs.GatewayFailed(c.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-client-id", c.cfg.ClientID)
	httpReq.Header.Set("x-client-secret", c.cfg.ClientSecret)
	httpReq.Header.Set("x-api-version", c.cfg.APIVersion)

	var out cashfreeOrder
	if err := c.c.do(httpReq, schema.CashfreeOrder, &out); err != nil {
		return Order{}, err
	}
	return Order{OrderRef: out.OrderID, SessionToken: out.PaymentSessionID}, nil
}

type cashfreeWebhook struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID     string  `json:"order_id"`
			OrderAmount float64 `json:"order_amount"`
		} `json:"order"`
		Payment struct {
			CFPaymentID   json.RawMessage `json:"cf_payment_id"`
			PaymentStatus string          `json:"payment_status"`
			PaymentAmount float64         `json:"payment_amount"`
		} `json:"payment"`
	} `json:"data"`
}

// VerifyCallback checks x-webhook-signature = base64(HMAC-SHA256(timestamp + body)).
func (c *Cashfree) VerifyCallback(ctx context.Context, body []byte, header http.Header) (Callback, error) {
	ts := header.Get("x-webhook-timestamp")
	sig := header.Get("x-webhook-signature")
	if ts == "" || sig == "" {
		return Callback{}, errordefs.Signature(c.Name(), errors.New("missing webhook signature headers"))
	}
	if !equalExact(sig, hmacSHA256Base64(c.cfg.ClientSecret, ts+string(body))) {
		return Callback{}, errordefs.Signature(c.Name(), errors.New("signature mismatch"))
	}
	if err := schema.Default().Validate(schema.CashfreeWebhook, body); err != nil {
		return Callback{}, errordefs.Validation("payload", err.Error())
	}

	var wh cashfreeWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return Callback{}, errordefs.Validation("payload", err.Error())
	}

	amount := wh.Data.Payment.PaymentAmount
	if amount == 0 {
		amount = wh.Data.Order.OrderAmount
	}
	status := wh.Data.Payment.PaymentStatus
	return Callback{
		TransactionID: wh.Data.Order.OrderID,
		OrderRef:      wh.Data.Order.OrderID,
		ProviderRef:   strings.Trim(string(wh.Data.Payment.CFPaymentID), `"`),
		EventID:       fmt.Sprintf("%s:%s", wh.Data.Order.OrderID, status),
		Outcome:       cashfreeOutcome(status),
		AmountMinor:   int64(math.Round(amount * 100)),
		RawStatus:     status,
	}, nil
}

func cashfreeOutcome(status string) Outcome {
	switch strings.ToUpper(status) {
	case "SUCCESS":
		return OutcomeSuccess
	case "FAILED", "USER_DROPPED", "CANCELLED", "VOID":
		return OutcomeFailure
	default:
		return OutcomePending
	}
}

func querySep(u string) string {
	if strings.Contains(u, "?") {
		return "&"
	}
	return "?"
}
