package event

import (
	"context"
	"testing"
	"time"

	"github.com/reelgate/climaxpay-go/internal/model"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("")
	if _, ok := p.(Noop); !ok {
		t.Fatalf("NewPublisher(\"\") = %T, want Noop", p)
	}
	if err := p.PublishPayment(context.Background(), PaymentApproved, model.PaymentRecord{TransactionID: "txn_1"}); err != nil {
		t.Errorf("Noop.PublishPayment() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Noop.Close() error = %v", err)
	}
}

func TestEventSuffix(t *testing.T) {
	tests := map[string]string{
		PaymentInitiated: "initiated",
		PaymentApproved:  "approved",
		PaymentDeclined:  "declined",
		"plain":          "plain",
	}
	for in, want := range tests {
		if got := eventSuffix(in); got != want {
			t.Errorf("eventSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDedupWindow(t *testing.T) {
	p := &natsPub{dedup: make(map[string]time.Time)}
	if p.seenRecently("k") {
		t.Fatal("fresh key reported as seen")
	}
	p.remember("k")
	if !p.seenRecently("k") {
		t.Error("remembered key not reported as seen")
	}
}
