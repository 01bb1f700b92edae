// Package auth authenticates API callers with static API keys or HS256 JWTs.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Scopes carried by tokens.
const (
	ScopeRead = "read"
	ScopeRun  = "run"
)

// ErrUnauthenticated is returned when a request carries no valid credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims are the JWT claims issued by ensemble.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// Manager validates credentials. Configured API keys may be plain values or
// bcrypt hashes ("$2a$...").
type Manager struct {
	jwtSecret []byte
	plainKeys [][]byte
	hashKeys  [][]byte
}

// NewManager creates a manager. An empty secret gets a random per-process one,
// so issued tokens do not survive a restart.
func NewManager(jwtSecret string, apiKeys []string) *Manager {
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		log.Printf("[Auth] Generated random JWT secret for session (not persistent)")
	}
	m := &Manager{jwtSecret: []byte(jwtSecret)}
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		switch {
		case k == "":
		case strings.HasPrefix(k, "$2"):
			m.hashKeys = append(m.hashKeys, []byte(k))
		default:
			m.plainKeys = append(m.plainKeys, []byte(k))
		}
	}
	return m
}

// IssueToken signs a token for subject.
func (m *Manager) IssueToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	now := time.Now()
	claims := &Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "ensemble",
			Subject:  subject,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
}

// ValidateToken validates a JWT and returns its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	}, jwt.WithIssuer("ensemble"))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// ValidateAPIKey reports whether key matches a configured key.
func (m *Manager) ValidateAPIKey(key string) bool {
	if key == "" {
		return false
	}
	kb := []byte(key)
	for _, p := range m.plainKeys {
		if subtle.ConstantTimeCompare(p, kb) == 1 {
			return true
		}
	}
	for _, h := range m.hashKeys {
		if bcrypt.CompareHashAndPassword(h, kb) == nil {
			return true
		}
	}
	return false
}

// Authenticate inspects X-API-Key and Authorization: Bearer headers. API keys
// grant every scope.
func (m *Manager) Authenticate(r *http.Request) (*Claims, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		if m.ValidateAPIKey(key) {
			return apiKeyClaims(), nil
		}
		return nil, ErrUnauthenticated
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		// Browsers cannot set headers on EventSource/WebSocket requests.
		if tok := r.URL.Query().Get("token"); tok != "" {
			authz = "Bearer " + tok
		} else {
			return nil, ErrUnauthenticated
		}
	}
	cred := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	if m.ValidateAPIKey(cred) {
		return apiKeyClaims(), nil
	}
	claims, err := m.ValidateToken(cred)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return claims, nil
}

func apiKeyClaims() *Claims {
	return &Claims{Scopes: []string{"*"}, RegisteredClaims: jwt.RegisteredClaims{Subject: "api-key"}}
}

// HashAPIKey returns a bcrypt hash suitable for security.api_keys.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func generateRandomSecret(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random secret: %v", err))
	}
	return hex.EncodeToString(b)
}
