// Package session issues and verifies the signed tokens that identify callers.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stwalsh4118/peritaje/internal/models"
)

// CookieName is the cookie carrying the session token.
const CookieName = "peritaje_session"

const issuer = "peritaje"

var (
	ErrEmptySecret  = errors.New("session signing secret cannot be empty")
	ErrInvalidToken = errors.New("invalid session token")
	ErrNoSubject    = errors.New("identity has no user or anonymous session id")
)

// Claims is the token payload. Subject holds the user id, or the anonymous
// session id when Anonymous is set.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Anonymous bool   `json:"anon,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 session tokens.
type Manager struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewManager creates a Manager. ttl is the lifetime of issued tokens.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Manager{signingKey: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for the identity and returns it with its expiry.
func (m *Manager) Issue(id models.Identity) (string, time.Time, error) {
	subject, anonymous := id.UserID, false
	if subject == "" {
		subject, anonymous = id.AnonymousSessionID, true
	}
	if subject == "" {
		return "", time.Time{}, ErrNoSubject
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := &Claims{
		Email:     id.Email,
		Phone:     id.Phone,
		Anonymous: anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueAnonymous creates a fresh anonymous identity and its token.
func (m *Manager) IssueAnonymous() (models.Identity, string, time.Time, error) {
	id := models.Identity{AnonymousSessionID: uuid.New().String()}
	token, expiresAt, err := m.Issue(id)
	if err != nil {
		return models.Identity{}, "", time.Time{}, err
	}
	return id, token, expiresAt, nil
}

// Parse verifies a token and returns the identity it carries.
func (m *Manager) Parse(tokenString string) (models.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return models.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	if claims.Anonymous {
		return models.Identity{AnonymousSessionID: claims.Subject}, nil
	}
	return models.Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Phone:  claims.Phone,
	}, nil
}
