package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid strong password", "SecureP@ss123", false},
		{"too short", "Pa@1x", true},
		{"too long", "Aa1!" + strings.Repeat("x", 80), true},
		{"missing uppercase", "securepass@123", true},
		{"missing lowercase", "SECUREPASS@123", true},
		{"missing digit", "SecurePass@xyz", true},
		{"missing special", "SecurePass123", true},
		{"common password", "Passw0rd!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Equal(t, "invalid password", err.Error())

			var pve *PasswordValidationError
			require.True(t, errors.As(err, &pve))
			assert.NotEmpty(t, pve.Errors)
		})
	}
}

func TestHasher_RoundTrip(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hash, err := h.Hash("SecureP@ss123")
	require.NoError(t, err)
	assert.NotEqual(t, "SecureP@ss123", hash)

	assert.NoError(t, h.Compare(hash, "SecureP@ss123"))
	assert.Error(t, h.Compare(hash, "WrongP@ss123"))
	assert.NoError(t, ComparePassword(hash, "SecureP@ss123"))
}

func TestHasher_EmptyPassword(t *testing.T) {
	_, err := NewHasher(bcrypt.MinCost).Hash("")
	assert.Error(t, err)
}

func TestNewHasher_InvalidCostFallsBack(t *testing.T) {
	assert.Equal(t, BcryptCost, NewHasher(0).cost)
	assert.Equal(t, BcryptCost, NewHasher(99).cost)
	assert.Equal(t, bcrypt.MinCost, NewHasher(bcrypt.MinCost).cost)
}
