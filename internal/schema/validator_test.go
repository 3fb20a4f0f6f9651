package schema

import (
	"testing"
)

func TestAllShapesCompile(t *testing.T) {
	if _, err := NewValidator(); err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	v := Default()
	tests := []struct {
		name    string
		shape   string
		payload string
		wantErr bool
	}{
		{"razorpay order ok", RazorpayOrder, `{"id":"order_1","amount":4900,"currency":"INR"}`, false},
		{"razorpay order missing id", RazorpayOrder, `{"amount":4900,"currency":"INR"}`, true},
		{"cashfree order ok", CashfreeOrder, `{"order_id":"txn_1","payment_session_id":"sess"}`, false},
		{"cashfree order empty session", CashfreeOrder, `{"order_id":"txn_1","payment_session_id":""}`, true},
		{"phonepe callback ok", PhonePeCallback, `{"code":"PAYMENT_SUCCESS","data":{"merchantTransactionId":"txn_1","amount":4900}}`, false},
		{"phonepe callback string amount", PhonePeCallback, `{"code":"PAYMENT_SUCCESS","data":{"merchantTransactionId":"txn_1","amount":"49"}}`, true},
		{"instamojo failure", InstamojoPayRequest, `{"success":false,"payment_request":{"id":"x","longurl":"y"}}`, true},
		{"not json", RazorpayWebhook, `nope`, true},
		{"unknown shape", "nope", `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.shape, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
