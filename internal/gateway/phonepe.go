package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/reelgate/climaxpay-go/internal/config"
	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/schema"
)

const phonePePayPath = "/pg/v1/pay"

// PhonePe uses the PG pay page. Requests and callbacks are base64 JSON
// checksummed with the salt key as sha256(payload + path + salt)###index.
type PhonePe struct {
	cfg config.PhonePeConfig
	c   caller
}

func NewPhonePe(cfg config.PhonePeConfig, hc *http.Client) *PhonePe {
	return &PhonePe{cfg: cfg, c: caller{gateway: "phonepe", hc: hc}}
}

func (p *PhonePe) Name() string { return "phonepe" }

type phonePePayResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		InstrumentResponse struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

func (p *PhonePe) checksum(payload, suffix string) string {
	return sha256Hex(payload+suffix+p.cfg.SaltKey) + "###" + p.cfg.SaltIndex
}

func (p *PhonePe) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	inner, err := json.Marshal(map[string]any{
		"merchantId":            p.cfg.MerchantID,
		"merchantTransactionId": req.TransactionID,
		"merchantUserId":        req.UserID,
		"amount":                req.AmountMinor(),
		"redirectUrl":           req.ReturnURL,
		"redirectMode":          "REDIRECT",
		"callbackUrl":           req.WebhookURL,
		"mobileNumber":          req.Customer.Phone,
		"paymentInstrument":     map[string]string{"type": "PAY_PAGE"},
	})
	if err != nil {
		return Order{}, errordefs.GatewayFailed(p.Name(), err)
	}
	encoded := base64.StdEncoding.EncodeToString(inner)
	body, _ := json.Marshal(map[string]string{"request": encoded})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+phonePePayPath, bytes.NewReader(body))
	if err != nil {
		return Order{}, errordefs.GatewayFailed(p.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", p.checksum(encoded, phonePePayPath))

	var out phonePePayResponse
	if err := p.c.do(httpReq, schema.PhonePePay, &out); err != nil {
		return Order{}, err
	}
	if !out.Success || out.Data.InstrumentResponse.RedirectInfo.URL == "" {
		return Order{}, errordefs.GatewayFailed(p.Name(), errors.New("pay request refused: "+out.Code))
	}
	return Order{OrderRef: req.TransactionID, RedirectURL: out.Data.InstrumentResponse.RedirectInfo.URL}, nil
}

type phonePeCallback struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
	} `json:"data"`
}

func (p *PhonePe) VerifyCallback(ctx context.Context, body []byte, header http.Header) (Callback, error) {
	verify := header.Get("X-VERIFY")
	if verify == "" {
		return Callback{}, errordefs.Signature(p.Name(), errors.New("missing X-VERIFY"))
	}
	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Response == "" {
		return Callback{}, errordefs.Signature(p.Name(), errors.New("missing response payload"))
	}
	if !equalHex(verify, p.checksum(envelope.Response, "")) {
		return Callback{}, errordefs.Signature(p.Name(), errors.New("checksum mismatch"))
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Response)
	if err != nil {
		return Callback{}, errordefs.Validation("response", "response is not base64")
	}
	if err := schema.Default().Validate(schema.PhonePeCallback, decoded); err != nil {
		return Callback{}, errordefs.Validation("response", err.Error())
	}
	var cb phonePeCallback
	if err := json.Unmarshal(decoded, &cb); err != nil {
		return Callback{}, errordefs.Validation("response", err.Error())
	}

	return Callback{
		TransactionID: cb.Data.MerchantTransactionID,
		OrderRef:      cb.Data.MerchantTransactionID,
		ProviderRef:   cb.Data.TransactionID,
		EventID:       cb.Data.MerchantTransactionID + ":" + cb.Code,
		Outcome:       phonePeOutcome(cb.Code),
		AmountMinor:   cb.Data.Amount,
		RawStatus:     cb.Code,
	}, nil
}

func phonePeOutcome(code string) Outcome {
	switch strings.ToUpper(code) {
	case "PAYMENT_SUCCESS":
		return OutcomeSuccess
	case "PAYMENT_ERROR", "PAYMENT_DECLINED", "TIMED_OUT", "TRANSACTION_NOT_FOUND":
		return OutcomeFailure
	default:
		return OutcomePending
	}
}
