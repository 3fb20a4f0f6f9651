// internal/event/nats.go
// Package event publishes payment lifecycle events to NATS JetStream.
// Downstream consumers (entitlement caches, analytics, receipts) subscribe to
// ott.payments.* instead of polling the store.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/reelgate/climaxpay-go/internal/model"
	"github.com/reelgate/climaxpay-go/internal/telemetry"
)

// Event types published on state changes.
const (
	PaymentInitiated = "payment.initiated"
	PaymentApproved  = "payment.approved"
	PaymentDeclined  = "payment.declined"
	ContentUpdated   = "content.updated"
)

// Publisher is what the services need from the event stream.
type Publisher interface {
	PublishPayment(ctx context.Context, eventType string, rec model.PaymentRecord) error
	PublishContent(ctx context.Context, item model.ContentItem) error
	Close() error
}

// Noop discards events. It is used when NATS is not configured.
type Noop struct{}

func (Noop) PublishPayment(ctx context.Context, eventType string, rec model.PaymentRecord) error {
	return nil
}

func (Noop) PublishContent(ctx context.Context, item model.ContentItem) error {
	return nil
}

func (Noop) Close() error {
	return nil
}

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc *nats.Conn
	js nats.JetStreamContext

	dedup map[string]time.Time // Map of event key to last publish time
	mutex sync.Mutex
}

// NewPublisher connects to url. An empty url, or any connection or stream
// setup failure, yields a Noop publisher so payments keep flowing without NATS.
func NewPublisher(url string) Publisher {
	if url == "" {
		return Noop{}
	}

	nc, err := nats.Connect(url, nats.Name(telemetry.ServiceName), nats.MaxReconnects(-1))
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return Noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return Noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return Noop{}
	}

	return &natsPub{nc: nc, js: js, dedup: make(map[string]time.Time)}
}

func initStreams(js nats.JetStreamContext) error {
	streams := []*nats.StreamConfig{
		{
			Name:       "OTT_PAYMENTS",
			Subjects:   []string{"ott.payments.*"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     7 * 24 * time.Hour,
			Discard:    nats.DiscardOld,
			Storage:    nats.FileStorage,
			Duplicates: 2 * time.Minute,
		},
		{
			Name:      "OTT_CATALOG",
			Subjects:  []string{"ott.content.*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
		},
	}
	for _, cfg := range streams {
		if _, err := js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create %s stream: %w", cfg.Name, err)
		}
	}
	return nil
}

// EventEnvelope wraps every published event.
type EventEnvelope struct {
	Type          string      `json:"type"`
	Version       string      `json:"version"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId"`
	Payload       interface{} `json:"payload"`
}

func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// seenRecently reports whether key was published within the last two minutes.
func (p *natsPub) seenRecently(key string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	last, ok := p.dedup[key]
	return ok && time.Since(last) < 2*time.Minute
}

func (p *natsPub) remember(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for k, t := range p.dedup {
		if t.Before(cutoff) {
			delete(p.dedup, k)
		}
	}
	p.dedup[key] = time.Now()
}

func (p *natsPub) publish(ctx context.Context, subject, eventType, key string, payload any) error {
	if p.seenRecently(key) {
		return nil
	}

	b, err := json.Marshal(EventEnvelope{
		Type:          eventType,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: telemetry.CorrelationID(ctx),
		Payload:       payload,
	})
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(subject, b, nats.Context(ctx), nats.MsgId(key)); err != nil {
		return err
	}
	p.remember(key)
	return nil
}

// PublishPayment publishes a payment event on ott.payments.<initiated|approved|declined>.
func (p *natsPub) PublishPayment(ctx context.Context, eventType string, rec model.PaymentRecord) error {
	subject := "ott.payments." + eventSuffix(eventType)
	return p.publish(ctx, subject, eventType, eventType+":"+rec.TransactionID, rec)
}

// PublishContent publishes a catalog change.
func (p *natsPub) PublishContent(ctx context.Context, item model.ContentItem) error {
	key := fmt.Sprintf("%s:%s:%d", ContentUpdated, item.ID, item.UpdatedAt.UnixNano())
	return p.publish(ctx, "ott.content.updated", ContentUpdated, key, item)
}

func eventSuffix(eventType string) string {
	for i := len(eventType) - 1; i >= 0; i-- {
		if eventType[i] == '.' {
			return eventType[i+1:]
		}
	}
	return eventType
}
