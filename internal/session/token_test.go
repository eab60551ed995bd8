package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiry(t *testing.T) {
	sign := func(claims jwt.RegisteredClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-key"))
		require.NoError(t, err)
		return token
	}
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)

	tests := []struct {
		name   string
		token  string
		wantOK bool
	}{
		{"jwt with exp", sign(jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}), true},
		{"expired jwt still readable", sign(jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp.Add(-time.Hour))}), true},
		{"jwt without exp", sign(jwt.RegisteredClaims{Subject: "1"}), false},
		{"opaque token", "1|laravel-sanctum-plain-text-token", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TokenExpiry(tt.token)

			require.Equal(t, tt.wantOK, ok)
			if ok {
				require.False(t, got.IsZero())
			}
		})
	}

	got, ok := TokenExpiry(sign(jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}))
	require.True(t, ok)
	require.True(t, exp.Equal(got))
}
