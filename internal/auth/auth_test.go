package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelgate/climaxpay-go/internal/model"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestIssueAndValidate(t *testing.T) {
	iss := NewIssuer(secret, "climaxpay", time.Hour)
	tok, exp, err := iss.Issue(model.User{ID: "u1", Role: model.RoleAdmin})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	p, err := iss.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.True(t, p.IsAdmin())
}

func TestValidateRejects(t *testing.T) {
	iss := NewIssuer(secret, "climaxpay", time.Hour)
	good, _, err := iss.Issue(model.User{ID: "u1", Role: model.RoleUser})
	require.NoError(t, err)

	other := NewIssuer("ffffffffffffffffffffffffffffffff", "climaxpay", time.Hour)
	_, err = other.Validate(good)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	wrongIss := NewIssuer(secret, "someone-else", time.Hour)
	_, err = wrongIss.Validate(good)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	expired := NewIssuer(secret, "climaxpay", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue(model.User{ID: "u1"})
	require.NoError(t, err)
	_, err = iss.Validate(old)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "iss": "climaxpay"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.Validate(none)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")
}

func TestUnknownRoleDowngradesToUser(t *testing.T) {
	iss := NewIssuer(secret, "climaxpay", time.Hour)
	tok, _, err := iss.Issue(model.User{ID: "u1", Role: "superuser"})
	require.NoError(t, err)
	p, err := iss.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, p.Role)
}

func TestPrincipalCanActFor(t *testing.T) {
	assert.True(t, Principal{UserID: "u1"}.CanActFor("u1"))
	assert.False(t, Principal{UserID: "u1"}.CanActFor("u2"))
	assert.True(t, Principal{UserID: "a", Role: model.RoleAdmin}.CanActFor("u2"))
	assert.False(t, Principal{}.CanActFor(""))
}

func TestPasswordHashing(t *testing.T) {
	h, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "correct horse"))
	assert.False(t, CheckPassword(h, "wrong horse"))
}
