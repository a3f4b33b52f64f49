package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every reason a session token is rejected.
var ErrInvalidToken = errors.New("invalid token")

// TokenManager issues and validates HMAC signed session tokens whose subject
// is the user id.
type TokenManager struct {
	secret   []byte
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenManager creates a manager for the given secret and lifetime.
func NewTokenManager(secret, audience string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret:   []byte(secret),
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue signs a token for subject.
func (m *TokenManager) Issue(subject string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse validates token and returns its subject.
func (m *TokenManager) Parse(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
