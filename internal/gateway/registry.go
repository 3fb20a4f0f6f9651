package gateway

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/reelgate/climaxpay-go/internal/config"
	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
)

// Registry resolves adapters by gateway name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry indexes adapters by Name. Later duplicates replace earlier ones.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// FromConfig registers every provider whose credentials are complete.
func FromConfig(cfg config.Gateways, hc *http.Client) *Registry {
	var adapters []Adapter
	if cfg.Razorpay.Enabled() {
		adapters = append(adapters, NewRazorpay(cfg.Razorpay, hc))
	}
	if cfg.Cashfree.Enabled() {
		adapters = append(adapters, NewCashfree(cfg.Cashfree, hc))
	}
	if cfg.PayU.Enabled() {
		adapters = append(adapters, NewPayU(cfg.PayU))
	}
	if cfg.PhonePe.Enabled() {
		adapters = append(adapters, NewPhonePe(cfg.PhonePe, hc))
	}
	if cfg.Instamojo.Enabled() {
		adapters = append(adapters, NewInstamojo(cfg.Instamojo, hc))
	}
	if cfg.Stripe.Enabled() {
		adapters = append(adapters, NewStripe(cfg.Stripe, hc))
	}
	return NewRegistry(adapters...)
}

// Get returns the adapter for name, or a GatewayUnavailable error listing the alternatives.
func (r *Registry) Get(name string) (Adapter, error) {
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	return nil, errordefs.GatewayUnavailable(name, fmt.Errorf("gateway %q is not configured", name)).
		WithDetail("availableGateways", r.Names())
}

// Names lists configured gateways in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
