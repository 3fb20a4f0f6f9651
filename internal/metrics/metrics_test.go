package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsIsSingleton(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	if a != b {
		t.Fatal("NewMetrics() returned distinct instances")
	}

	a.PaymentInitiateTotal.WithLabelValues("razorpay", "created").Inc()
	if got := testutil.ToFloat64(b.PaymentInitiateTotal.WithLabelValues("razorpay", "created")); got != 1 {
		t.Errorf("counter = %v, want 1", got)
	}
}
