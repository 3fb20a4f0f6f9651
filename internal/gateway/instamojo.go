package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/reelgate/climaxpay-go/internal/config"
	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/schema"
)

// Instamojo creates payment requests and signs webhooks with a MAC over the
// posted fields.
type Instamojo struct {
	cfg config.InstamojoConfig
	c   caller
}

func NewInstamojo(cfg config.InstamojoConfig, hc *http.Client) *Instamojo {
	return &Instamojo{cfg: cfg, c: caller{gateway: "instamojo", hc: hc}}
}

func (i *Instamojo) Name() string { return "instamojo" }

type instamojoPaymentRequest struct {
	Success        bool `json:"success"`
	PaymentRequest struct {
		ID      string `json:"id"`
		LongURL string `json:"longurl"`
	} `json:"payment_request"`
}

func (i *Instamojo) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	form := url.Values{}
	form.Set("purpose", req.TransactionID)
	form.Set("amount", formatMajor(req.Amount))
	form.Set("buyer_name", req.Customer.Name)
	form.Set("email", req.Customer.Email)
	form.Set("phone", req.Customer.Phone)
	form.Set("redirect_url", req.ReturnURL)
	form.Set("webhook", req.WebhookURL)
	form.Set("allow_repeated_payments", "False")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		i.cfg.BaseURL+"/api/1.1/payment-requests/", strings.NewReader(form.Encode()))
	if err != nil {
		return Order{}, errordefs.GatewayFailed(i.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-Api-Key", i.cfg.APIKey)
	httpReq.Header.Set("X-Auth-Token", i.cfg.AuthToken)

	var out instamojoPaymentRequest
	if err := i.c.do(httpReq, schema.InstamojoPayRequest, &out); err != nil {
		return Order{}, err
	}
	return Order{OrderRef: out.PaymentRequest.ID, RedirectURL: out.PaymentRequest.LongURL}, nil
}

// mac is hex HMAC-SHA1 over the field values, ordered by key name
// case-insensitively and joined with "|". The mac field itself is excluded.
func (i *Instamojo) mac(form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k != "mac" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(a, b int) bool { return strings.ToLower(keys[a]) < strings.ToLower(keys[b]) })

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, form.Get(k))
	}
	return hmacSHA1Hex(i.cfg.PrivateSalt, strings.Join(values, "|"))
}

func (i *Instamojo) VerifyCallback(ctx context.Context, body []byte, header http.Header) (Callback, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return Callback{}, errordefs.Signature(i.Name(), fmt.Errorf("unparseable webhook: %w", err))
	}
	got := form.Get("mac")
	if got == "" {
		return Callback{}, errordefs.Signature(i.Name(), errors.New("missing mac"))
	}
	if !equalHex(got, i.mac(form)) {
		return Callback{}, errordefs.Signature(i.Name(), errors.New("mac mismatch"))
	}

	amount, err := parseMajorToMinor(form.Get("amount"))
	if err != nil {
		return Callback{}, errordefs.Validation("amount", "unparseable amount")
	}
	status := form.Get("status")
	return Callback{
		TransactionID: form.Get("purpose"),
		OrderRef:      form.Get("payment_request_id"),
		ProviderRef:   form.Get("payment_id"),
		EventID:       eventID(form.Get("purpose"), form.Get("payment_id"), status),
		Outcome:       instamojoOutcome(status),
		AmountMinor:   amount,
		RawStatus:     status,
	}, nil
}

func instamojoOutcome(status string) Outcome {
	switch strings.ToLower(status) {
	case "credit":
		return OutcomeSuccess
	case "failed":
		return OutcomeFailure
	default:
		return OutcomePending
	}
}
