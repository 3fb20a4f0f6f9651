package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/reelgate/climaxpay-go/internal/config"
	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
)

// PayU is a form-post hosted checkout. There is no server-side order call:
// the hashed form is handed to the client, and PayU posts the signed result
// back to surl/furl.
type PayU struct {
	cfg config.PayUConfig
}

func NewPayU(cfg config.PayUConfig) *PayU {
	return &PayU{cfg: cfg}
}

func (p *PayU) Name() string { return "payu" }

func (p *PayU) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	firstname := req.Customer.Name
	if firstname == "" {
		firstname = "Viewer"
	}
	fields := map[string]string{
		"key":         p.cfg.MerchantKey,
		"txnid":       req.TransactionID,
		"amount":      formatMajor(req.Amount),
		"productinfo": req.ContentID,
		"firstname":   firstname,
		"email":       req.Customer.Email,
		"phone":       req.Customer.Phone,
		"surl":        req.CallbackURL,
		"furl":        req.CallbackURL,
		"udf1":        req.UserID,
		"udf2":        req.ContentID,
	}
	fields["hash"] = p.requestHash(fields)
	return Order{OrderRef: req.TransactionID, RedirectURL: p.cfg.PaymentURL, FormFields: fields}, nil
}

// requestHash is sha512(key|txnid|amount|productinfo|firstname|email|udf1..udf5||||||salt).
func (p *PayU) requestHash(f map[string]string) string {
	parts := []string{f["key"], f["txnid"], f["amount"], f["productinfo"], f["firstname"], f["email"],
		f["udf1"], f["udf2"], f["udf3"], f["udf4"], f["udf5"], "", "", "", "", "", p.cfg.Salt}
	return sha512Hex(strings.Join(parts, "|"))
}

// responseHash reverses the field order and prepends the salt, and the
// additional charges when PayU applied any.
func (p *PayU) responseHash(f url.Values) string {
	parts := []string{p.cfg.Salt, f.Get("status"), "", "", "", "", "",
		f.Get("udf5"), f.Get("udf4"), f.Get("udf3"), f.Get("udf2"), f.Get("udf1"),
		f.Get("email"), f.Get("firstname"), f.Get("productinfo"), f.Get("amount"), f.Get("txnid"), f.Get("key")}
	if charges := f.Get("additionalCharges"); charges != "" {
		parts = append([]string{charges}, parts...)
	}
	return sha512Hex(strings.Join(parts, "|"))
}

func (p *PayU) VerifyCallback(ctx context.Context, body []byte, header http.Header) (Callback, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return Callback{}, errordefs.Signature(p.Name(), fmt.Errorf("unparseable callback: %w", err))
	}
	hash := form.Get("hash")
	if hash == "" {
		return Callback{}, errordefs.Signature(p.Name(), errors.New("missing hash"))
	}
	if form.Get("key") != p.cfg.MerchantKey {
		return Callback{}, errordefs.Signature(p.Name(), errors.New("merchant key mismatch"))
	}
	if !equalHex(hash, p.responseHash(form)) {
		return Callback{}, errordefs.Signature(p.Name(), errors.New("hash mismatch"))
	}

	amount, err := parseMajorToMinor(form.Get("amount"))
	if err != nil {
		return Callback{}, errordefs.Validation("amount", "unparseable amount")
	}
	status := form.Get("status")
	return Callback{
		TransactionID: form.Get("txnid"),
		ProviderRef:   form.Get("mihpayid"),
		EventID:       eventID(form.Get("txnid"), form.Get("mihpayid"), status),
		Outcome:       payuOutcome(status),
		AmountMinor:   amount,
		RawStatus:     status,
	}, nil
}

func payuOutcome(status string) Outcome {
	switch strings.ToLower(status) {
	case "success":
		return OutcomeSuccess
	case "failure", "failed", "cancel", "usercancelled":
		return OutcomeFailure
	default:
		return OutcomePending
	}
}
