package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sembalun/guard/internal/auth"
	"github.com/sembalun/guard/internal/clock"
	"github.com/sembalun/guard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-characters-long!!"

var testUser = &models.User{
	ID:    "user-123",
	Email: "arini@sembalun.app",
	Role:  models.RoleUser,
}

func TestTokenManager_RoundTrip(t *testing.T) {
	vc := clock.NewVirtualClock(time.Now())
	tm := auth.NewTokenManager(testSecret, 15*time.Minute, vc)

	token, expiresAt, err := tm.GenerateAccessToken(testUser, "session-1")
	require.NoError(t, err)
	assert.Equal(t, vc.Now().Add(15*time.Minute), expiresAt)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, models.RoleUser, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_ExpiredToken(t *testing.T) {
	vc := clock.NewVirtualClock(time.Now())
	tm := auth.NewTokenManager(testSecret, time.Minute, vc)

	token, _, err := tm.GenerateAccessToken(testUser, "session-1")
	require.NoError(t, err)

	vc.Advance(2 * time.Minute)
	_, err = tm.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	vc := clock.NewVirtualClock(time.Now())
	issuer := auth.NewTokenManager(testSecret, time.Minute, vc)
	verifier := auth.NewTokenManager("a-completely-different-secret!!!", time.Minute, vc)

	token, _, err := issuer.GenerateAccessToken(testUser, "session-1")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsTokenWithoutSession(t *testing.T) {
	vc := clock.NewVirtualClock(time.Now())
	tm := auth.NewTokenManager(testSecret, time.Minute, vc)

	token, _, err := tm.GenerateAccessToken(testUser, "")
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsNoneAlgorithm(t *testing.T) {
	vc := clock.NewVirtualClock(time.Now())
	tm := auth.NewTokenManager(testSecret, time.Minute, vc)

	claims := &models.TokenClaims{
		Type:      "access",
		UserID:    "user-123",
		SessionID: "session-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "sembalun-guard",
			ExpiresAt: jwt.NewNumericDate(vc.Now().Add(time.Minute)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tm.ValidateToken(unsigned)
	assert.Error(t, err)
}
