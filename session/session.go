// Package session issues and verifies the signed bearer tokens handed to
// the browser after a successful Airtable authorization.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL matches how long an Airtable refresh token stays useful
// without the user coming back through the authorization flow.
const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrInvalidToken = errors.New("session: token is invalid")
	ErrExpiredToken = errors.New("session: token is expired")
)

// Claims is the session payload: the local user id in the subject, plus
// the email for display purposes.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Manager signs and verifies HS256 session tokens. It implements
// core.SessionIssuer.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("session: signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), issuer: "formbridge", ttl: ttl}, nil
}

// Issue signs a token for the user valid from now until now+TTL.
func (m *Manager) Issue(userID string, email string, now time.Time) (string, error) {
	if m == nil || len(m.secret) == 0 {
		return "", fmt.Errorf("session: manager is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("session: user id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Email: strings.TrimSpace(email),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token and returns its claims.
func (m *Manager) Verify(token string) (Claims, error) {
	if m == nil || len(m.secret) == 0 {
		return Claims{}, fmt.Errorf("session: manager is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: subject claim required", ErrInvalidToken)
	}
	return *claims, nil
}
