package server

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/model"
	"github.com/reelgate/climaxpay-go/internal/storage"
	"github.com/reelgate/climaxpay-go/internal/telemetry"
)

// handleInitiate starts a purchase with the chosen provider.
func (m *Mux) handleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleInitiate")
	defer span.End()

	p, _ := principalFrom(ctx)
	if !m.allow(w, r, "initiate", p.UserID, m.initiateLimit) {
		return
	}

	// Check for idempotency key
	var keyHash string
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		if len(key) > 255 {
			m.writeError(w, r, errordefs.Validation("Idempotency-Key", "must be at most 255 characters"))
			return
		}
		keyHash = fmt.Sprintf("%x", sha256.Sum256([]byte(p.UserID+":"+key)))
		body, status, err := m.store.GetIdempotentResponse(ctx, keyHash)
		if err == nil && body != nil {
			span.SetAttributes(attribute.Bool("idempotent_replay", true))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(status)
			_, _ = w.Write(body)
			return
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			telemetry.LoggerFrom(ctx).Warn("idempotency lookup failed", "error", err)
		}
	}

	var req model.InitiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		m.writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		req.UserID = p.UserID
	}
	if !p.CanActFor(req.UserID) {
		m.writeError(w, r, errordefs.New(errordefs.OTT_AUTHZ, "cannot purchase on behalf of another user", ""))
		return
	}
	span.SetAttributes(
		attribute.String("content_id", req.ContentID),
		attribute.String("gateway", req.Gateway),
	)

	resp, err := m.payments.Initiate(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.writeError(w, r, err)
		return
	}

	body, err := json.Marshal(map[string]any{"data": resp})
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if keyHash != "" {
		if err := m.store.StoreIdempotentResponse(ctx, keyHash, body, http.StatusOK, time.Now().Add(idempotencyTTL)); err != nil {
			telemetry.LoggerFrom(ctx).Warn("failed to store idempotent response", "error", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(body, '\n'))
}

// handleCallback applies a provider notification. Authenticity comes from
// the provider's signature, never from a bearer token.
func (m *Mux) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleCallback")
	defer span.End()

	gw := r.PathValue("gateway")
	span.SetAttributes(attribute.String("gateway", gw))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		m.writeError(w, r, errordefs.Validation("body", "unreadable or too large").Wrap(err))
		return
	}

	resp, err := m.payments.HandleCallback(ctx, gw, body, r.Header)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.writeError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, resp)
}

// handleCheck answers whether a viewer has unlocked a title.
func (m *Mux) handleCheck(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		userID = p.UserID
	}
	if !p.CanActFor(userID) {
		m.writeError(w, r, errordefs.New(errordefs.OTT_AUTHZ, "cannot check another user's purchases", ""))
		return
	}
	paid, err := m.payments.CheckUnlocked(r.Context(), userID, q.Get("contentId"))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, model.CheckResponse{Paid: paid})
}

// handleGetPayment returns one record to its owner or an admin.
func (m *Mux) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	rec, err := m.payments.Get(r.Context(), r.PathValue("transactionId"))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if !p.CanActFor(rec.UserID) {
		// Other users' transactions are indistinguishable from missing ones.
		m.writeError(w, r, errordefs.NotFound("payment not found"))
		return
	}
	m.writeSuccess(w, http.StatusOK, rec)
}

func (m *Mux) handleListPayments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", DefaultListLimit)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if limit == 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	q := r.URL.Query()
	recs, err := m.payments.ListPayments(r.Context(), model.PaymentQuery{
		UserID:    q.Get("userId"),
		ContentID: q.Get("contentId"),
		Status:    model.PaymentStatus(q.Get("status")),
		Limit:     limit,
	})
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.PaymentRecord{}
	}
	m.writeSuccess(w, http.StatusOK, recs)
}

func (m *Mux) handleReject(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	rec, err := m.payments.Reject(r.Context(), r.PathValue("transactionId"))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	telemetry.LoggerFrom(r.Context()).Info("payment rejected by admin",
		"transaction_id", rec.TransactionID, "admin_id", p.UserID)
	m.writeSuccess(w, http.StatusOK, rec)
}
