// integration/gateways_test.go
// Package integration drives every payment adapter through the HTTP API
// against fake provider servers: initiate, signed callback, unlock check.
package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/reelgate/climaxpay-go/internal/auth"
	"github.com/reelgate/climaxpay-go/internal/catalog"
	"github.com/reelgate/climaxpay-go/internal/config"
	"github.com/reelgate/climaxpay-go/internal/gateway"
	"github.com/reelgate/climaxpay-go/internal/metrics"
	"github.com/reelgate/climaxpay-go/internal/model"
	"github.com/reelgate/climaxpay-go/internal/payment"
	"github.com/reelgate/climaxpay-go/internal/server"
	"github.com/reelgate/climaxpay-go/internal/storage"
)

var testGateways = config.Gateways{
	Razorpay:  config.RazorpayConfig{KeyID: "rzp_key", KeySecret: "rzp_secret", WebhookSecret: "rzp_whsec"},
	Cashfree:  config.CashfreeConfig{ClientID: "cf_id", ClientSecret: "cf_secret", APIVersion: "2023-08-01"},
	PayU:      config.PayUConfig{MerchantKey: "payu_key", Salt: "payu_salt", PaymentURL: "https://test.payu.in/_payment"},
	PhonePe:   config.PhonePeConfig{MerchantID: "PGTEST", SaltKey: "pp_salt", SaltIndex: "1"},
	Instamojo: config.InstamojoConfig{APIKey: "im_key", AuthToken: "im_token", PrivateSalt: "im_salt"},
	Stripe:    config.StripeConfig{SecretKey: "sk_test_x", WebhookSecret: "whsec_stripe"},
}

// fakeProviders answers the order-creation endpoint of every provider.
func fakeProviders(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Receipt  string `json:"receipt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "order_" + req.Receipt, "amount": req.Amount, "currency": req.Currency, "receipt": req.Receipt})
	})
	mux.HandleFunc("POST /pg/orders", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OrderID string `json:"order_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{"order_id": req.OrderID, "payment_session_id": "session_" + req.OrderID, "cf_order_id": 1})
	})
	mux.HandleFunc("POST /pg/v1/pay", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"code":"PAYMENT_INITIATED","data":{"instrumentResponse":{"redirectInfo":{"url":"https://mercury.example/pay"}}}}`)
	})
	mux.HandleFunc("POST /api/1.1/payment-requests/", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		id := "pr_" + r.PostForm.Get("purpose")
		fmt.Fprintf(w, `{"success":true,"payment_request":{"id":%q,"longurl":"https://instamojo.example/@x/%s"}}`, id, id)
	})
	mux.HandleFunc("POST /v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		ref := r.PostForm.Get("client_reference_id")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"cs_%s","object":"checkout.session","url":"https://checkout.stripe.example/cs_%s"}`, ref, ref)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	handler http.Handler
	store   storage.Store
	token   string
}

func newEnv(t *testing.T, gws config.Gateways, hc *http.Client, timeout time.Duration) *env {
	t.Helper()
	store := storage.NewMemory()
	for _, id := range []string{"razorpay", "cashfree", "payu", "phonepe", "instamojo", "stripe"} {
		require.NoError(t, store.CreateContent(context.Background(), model.ContentItem{
			ID: "title-" + id, Title: "Title " + id, VideoURL: "https://cdn.example/" + id + ".m3u8",
			DurationSeconds: 200, ClimaxTimestampSeconds: 100, PremiumPrice: 49, IsActive: true, CreatedAt: time.Now(),
		}))
	}

	m := metrics.NewMetrics()
	issuer := auth.NewIssuer("integration-secret", "climaxpay", time.Hour)
	tok, _, err := issuer.Issue(model.User{ID: "u1", Role: model.RoleUser})
	require.NoError(t, err)

	handler := server.NewMux(server.Deps{
		Store:   store,
		Catalog: catalog.NewService(store, nil, nil),
		Payments: payment.NewService(store, gateway.FromConfig(gws, hc), nil, m, payment.Options{
			GatewayTimeout: timeout,
			PublicBaseURL:  "https://api.example",
		}),
		Issuer:  issuer,
		Metrics: m,
	})
	return &env{handler: handler, store: store, token: tok}
}

func (e *env) request(method, path, contentType string, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *env) initiate(t *testing.T, gw, contentID string) (*httptest.ResponseRecorder, model.InitiateResponse) {
	t.Helper()
	body, _ := json.Marshal(model.InitiateRequest{
		UserID: "u1", ContentID: contentID, Amount: 49, Gateway: gw,
		Customer: model.Customer{Name: "Asha", Email: "asha@example.com", Phone: "9876543210"},
	})
	h := http.Header{}
	h.Set("Authorization", "Bearer "+e.token)
	rr := e.request("POST", "/payments/initiate", "application/json", string(body), h)
	var out struct {
		Data model.InitiateResponse `json:"data"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	return rr, out.Data
}

func (e *env) paid(t *testing.T, contentID string) bool {
	t.Helper()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+e.token)
	rr := e.request("GET", "/payments/check?userId=u1&contentId="+contentID, "", "", h)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out struct {
		Data model.CheckResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out.Data.Paid
}

// signedCallback is what a provider would send for a successful payment.
type signedCallback struct {
	path        string
	contentType string
	body        string
	tampered    string // body with the amount lowered after signing
	header      http.Header
}

func hmacHex(h func() hash.Hash, key, msg string) string {
	m := hmac.New(h, []byte(key))
	m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}

func TestEveryGatewayUnlocksThroughCallback(t *testing.T) {
	providers := fakeProviders(t)
	gws := testGateways
	gws.Razorpay.BaseURL = providers.URL
	gws.Cashfree.BaseURL = providers.URL
	gws.PhonePe.BaseURL = providers.URL
	gws.Instamojo.BaseURL = providers.URL
	gws.Stripe.BaseURL = providers.URL
	e := newEnv(t, gws, providers.Client(), 5*time.Second)

	tests := []struct {
		gateway  string
		callback func(t *testing.T, resp model.InitiateResponse) signedCallback
	}{
		{"razorpay", func(t *testing.T, resp model.InitiateResponse) signedCallback {
			body := fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":%q,"amount":4900,"status":"captured","notes":{"transaction_id":%q}}}}}`,
				resp.SessionToken, resp.TransactionID)
			h := http.Header{}
			h.Set("X-Razorpay-Signature", hmacHex(sha256.New, gws.Razorpay.WebhookSecret, body))
			return signedCallback{"/payments/razorpay/webhook", "application/json", body,
				strings.Replace(body, `"amount":4900`, `"amount":1900`, 1), h}
		}},
		{"cashfree", func(t *testing.T, resp model.InitiateResponse) signedCallback {
			body := fmt.Sprintf(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":%q,"order_amount":49},"payment":{"cf_payment_id":"5114910","payment_status":"SUCCESS","payment_amount":49}}}`,
				resp.TransactionID)
			ts := fmt.Sprint(time.Now().Unix())
			m := hmac.New(sha256.New, []byte(gws.Cashfree.ClientSecret))
			m.Write([]byte(ts + body))
			h := http.Header{}
			h.Set("x-webhook-timestamp", ts)
			h.Set("x-webhook-signature", base64.StdEncoding.EncodeToString(m.Sum(nil)))
			return signedCallback{"/payments/cashfree/webhook", "application/json", body,
				strings.Replace(body, `"order_amount":49`, `"order_amount":19`, 1), h}
		}},
		{"payu", func(t *testing.T, resp model.InitiateResponse) signedCallback {
			f := resp.FormFields
			require.NotEmpty(t, f["hash"])
			form := url.Values{}
			for _, k := range []string{"key", "txnid", "amount", "productinfo", "firstname", "email", "udf1", "udf2"} {
				form.Set(k, f[k])
			}
			form.Set("status", "success")
			form.Set("mihpayid", "403993715521")
			reverse := strings.Join([]string{gws.PayU.Salt, "success", "", "", "", "", "", "", "", "",
				f["udf2"], f["udf1"], f["email"], f["firstname"], f["productinfo"], f["amount"], f["txnid"], f["key"]}, "|")
			sum := sha512.Sum512([]byte(reverse))
			form.Set("hash", hex.EncodeToString(sum[:]))
			body := form.Encode()
			form.Set("amount", "19.00")
			return signedCallback{"/payments/payu/callback", "application/x-www-form-urlencoded", body, form.Encode(), http.Header{}}
		}},
		{"phonepe", func(t *testing.T, resp model.InitiateResponse) signedCallback {
			encode := func(amount int) string {
				inner := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf(
					`{"success":true,"code":"PAYMENT_SUCCESS","data":{"merchantTransactionId":%q,"transactionId":"T1","amount":%d,"state":"COMPLETED"}}`,
					resp.TransactionID, amount)))
				body, _ := json.Marshal(map[string]string{"response": inner})
				return string(body)
			}
			var env struct {
				Response string `json:"response"`
			}
			body := encode(4900)
			require.NoError(t, json.Unmarshal([]byte(body), &env))
			sum := sha256.Sum256([]byte(env.Response + gws.PhonePe.SaltKey))
			h := http.Header{}
			h.Set("X-VERIFY", hex.EncodeToString(sum[:])+"###"+gws.PhonePe.SaltIndex)
			return signedCallback{"/payments/phonepe/webhook", "application/json", body, encode(1900), h}
		}},
		{"instamojo", func(t *testing.T, resp model.InitiateResponse) signedCallback {
			form := url.Values{}
			form.Set("amount", "49.00")
			form.Set("buyer", "asha@example.com")
			form.Set("payment_id", "MOJO1")
			form.Set("payment_request_id", "pr_"+resp.TransactionID)
			form.Set("purpose", resp.TransactionID)
			form.Set("status", "Credit")
			form.Set("mac", instamojoMAC(gws.Instamojo.PrivateSalt, form))
			body := form.Encode()
			form.Set("amount", "19.00")
			return signedCallback{"/payments/instamojo/webhook", "application/x-www-form-urlencoded", body, form.Encode(), http.Header{}}
		}},
		{"stripe", func(t *testing.T, resp model.InitiateResponse) signedCallback {
			payload := fmt.Sprintf(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_%s","object":"checkout.session","client_reference_id":%q,"payment_status":"paid","amount_total":4900,"payment_intent":"pi_1"}}}`,
				resp.TransactionID, resp.TransactionID)
			signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
				Payload: []byte(payload), Secret: gws.Stripe.WebhookSecret, Timestamp: time.Now(),
			})
			h := http.Header{}
			h.Set("Stripe-Signature", signed.Header)
			return signedCallback{"/payments/stripe/webhook", "application/json", payload,
				strings.Replace(payload, `"amount_total":4900`, `"amount_total":1900`, 1), h}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.gateway, func(t *testing.T) {
			contentID := "title-" + tt.gateway
			rr, resp := e.initiate(t, tt.gateway, contentID)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			require.NotEmpty(t, resp.TransactionID)
			assert.False(t, e.paid(t, contentID))

			cb := tt.callback(t, resp)

			// An amount edited after signing is refused before anything is looked up.
			rr = e.request("POST", cb.path, cb.contentType, cb.tampered, cb.header)
			assert.Equal(t, http.StatusUnauthorized, rr.Code, rr.Body.String())
			assert.False(t, e.paid(t, contentID))

			rr = e.request("POST", cb.path, cb.contentType, cb.body, cb.header)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.True(t, e.paid(t, contentID))

			rec, err := e.store.GetPayment(context.Background(), resp.TransactionID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusApproved, rec.Status)
			assert.Equal(t, tt.gateway, rec.Gateway)
		})
	}
}

func TestGatewayTimeoutAllowsRetryWithAnotherGateway(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	gws := config.Gateways{Razorpay: testGateways.Razorpay, PayU: testGateways.PayU}
	gws.Razorpay.BaseURL = slow.URL
	e := newEnv(t, gws, slow.Client(), 100*time.Millisecond)

	rr, _ := e.initiate(t, "razorpay", "title-razorpay")
	require.Equal(t, http.StatusGatewayTimeout, rr.Code, rr.Body.String())
	var out struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "OTT_GATEWAY_TIMEOUT", out.Error.Code)
	assert.Equal(t, true, out.Error.Details["retryWithOtherGateway"])
	assert.ElementsMatch(t, []any{"payu", "razorpay"}, out.Error.Details["availableGateways"])

	rr, resp := e.initiate(t, "payu", "title-razorpay")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "https://test.payu.in/_payment", resp.RedirectURL)

	recs, err := e.store.ListPayments(context.Background(), model.PaymentQuery{UserID: "u1", ContentID: "title-razorpay"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	statuses := []string{string(recs[0].Status), string(recs[1].Status)}
	assert.ElementsMatch(t, []string{"pending", "declined"}, statuses)
}

func instamojoMAC(salt string, form url.Values) string {
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
	return hmacHex(sha1.New, salt, strings.Join(values, "|"))
}
