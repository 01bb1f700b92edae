package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateToken(t *testing.T) {
	m := NewManager("secret", nil)
	tok, err := m.IssueToken("dashboard", []string{ScopeRead}, time.Hour)
	require.NoError(t, err)

	claims, err := m.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.Subject)
	assert.True(t, claims.HasScope(ScopeRead))
	assert.False(t, claims.HasScope(ScopeRun))

	_, err = NewManager("other", nil).ValidateToken(tok)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	m := NewManager("secret", nil)
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "ensemble",
		Subject:   "x",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.ValidateToken(tok)
	assert.Error(t, err)
}

func TestAPIKeys(t *testing.T) {
	hash, err := HashAPIKey("hashed-key")
	require.NoError(t, err)
	m := NewManager("secret", []string{"plain-key", hash, " "})

	assert.True(t, m.ValidateAPIKey("plain-key"))
	assert.True(t, m.ValidateAPIKey("hashed-key"))
	assert.False(t, m.ValidateAPIKey("nope"))
	assert.False(t, m.ValidateAPIKey(""))
}

func TestAuthenticate(t *testing.T) {
	m := NewManager("secret", []string{"k1"})
	tok, err := m.IssueToken("cli", []string{ScopeRun}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		value   string
		query   string
		wantErr bool
		subject string
	}{
		{"api key header", "X-API-Key", "k1", "", false, "api-key"},
		{"bad api key", "X-API-Key", "k2", "", true, ""},
		{"bearer api key", "Authorization", "Bearer k1", "", false, "api-key"},
		{"bearer jwt", "Authorization", "Bearer " + tok, "", false, "cli"},
		{"query token", "", "", "?token=" + tok, false, "cli"},
		{"missing", "", "", "", true, ""},
		{"garbage bearer", "Authorization", "Bearer xyz", "", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/jobs"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			claims, err := m.Authenticate(r)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, claims.Subject)
		})
	}
}
