package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/reelgate/climaxpay-go/internal/auth"
	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/model"
	"github.com/reelgate/climaxpay-go/internal/ratelimit"
	"github.com/reelgate/climaxpay-go/internal/storage"
	"github.com/reelgate/climaxpay-go/internal/telemetry"
)

// handleRegister creates a viewer account.
func (m *Mux) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleRegister")
	defer span.End()

	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		m.writeError(w, r, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := model.Validate(req); err != nil {
		m.writeError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		span.SetStatus(codes.Error, "hash failed")
		m.writeError(w, r, err)
		return
	}
	user := model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			m.writeError(w, r, errordefs.Conflict("email is already registered"))
			return
		}
		span.SetStatus(codes.Error, "create user failed")
		m.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("user_id", user.ID))

	resp, err := m.tokenFor(user)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	telemetry.LoggerFrom(ctx).Info("user registered", "user_id", user.ID)
	m.writeSuccess(w, http.StatusCreated, resp)
}

// handleLogin exchanges credentials for an access token. Attempts are
// limited per client address.
func (m *Mux) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleLogin")
	defer span.End()

	if !m.allow(w, r, "login", ratelimit.ClientIP(r), m.loginLimit) {
		return
	}

	var req model.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		m.writeError(w, r, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := model.Validate(req); err != nil {
		m.writeError(w, r, err)
		return
	}

	invalid := errordefs.New(errordefs.OTT_AUTHN, "invalid email or password", "")
	user, err := m.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.writeError(w, r, invalid)
			return
		}
		m.writeError(w, r, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		span.SetStatus(codes.Error, "bad credentials")
		m.writeError(w, r, invalid)
		return
	}

	resp, err := m.tokenFor(*user)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, resp)
}

func (m *Mux) tokenFor(u model.User) (model.TokenResponse, error) {
	tok, exp, err := m.issuer.Issue(u)
	if err != nil {
		return model.TokenResponse{}, err
	}
	return model.TokenResponse{AccessToken: tok, TokenType: "Bearer", ExpiresAt: exp, User: u}, nil
}

// handlePurchases lists the titles the caller has unlocked.
func (m *Mux) handlePurchases(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	ids, err := m.payments.PurchasedContent(r.Context(), p.UserID)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, model.PurchasesResponse{UserID: p.UserID, PurchasedContent: ids})
}
