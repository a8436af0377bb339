package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/identity"
)

const sessionIssuer = "datahub-registry"

// SessionClaims is the payload of a locally issued session JWT (OIDC mode).
type SessionClaims struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies local session cookies for the built-in
// OIDC login flow. In ory mode it is not constructed at all; the whoami client
// serves as the identity.Verifier instead.
type SessionManager struct {
	secret     []byte
	cookieName string
	duration   time.Duration
	secure     bool
}

// NewSessionManager builds a manager from the session configuration.
// The secret is validated at config load time; an empty one here is a
// programming error.
func NewSessionManager(cfg *config.SessionConfig) (*SessionManager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("session secret is required")
	}
	duration := cfg.Duration
	if duration <= 0 {
		duration = 12 * time.Hour
	}
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = "dhr_session"
	}
	return &SessionManager{
		secret:     []byte(cfg.Secret),
		cookieName: cookieName,
		duration:   duration,
		secure:     cfg.Secure,
	}, nil
}

// Issue creates a signed session token for the given identity.
func (m *SessionManager) Issue(identityID, email string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		IdentityID: identityID,
		Email:      email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    sessionIssuer,
			Subject:   identityID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Cookie wraps a session token in the configured cookie.
func (m *SessionManager) Cookie(token string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// TTL returns the configured session lifetime, used as the cookie max age
// when a fresh session is issued.
func (m *SessionManager) TTL() time.Duration {
	return m.duration
}

// stateCookieName carries the OAuth2 state between the login redirect and the
// callback. Short lived and independent of the session cookie name so that a
// stale state never shadows an active session.
const stateCookieName = "dhr_oauth_state"

// StateCookie wraps an OAuth2 state value for the login redirect.
func (m *SessionManager) StateCookie(state string) *http.Cookie {
	return &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearStateCookie returns an expired cookie that removes the OAuth2 state
// after the callback consumed it.
func (m *SessionManager) ClearStateCookie() *http.Cookie {
	return &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie returns an expired cookie that removes the session.
func (m *SessionManager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Verify implements identity.Verifier over the local session cookie.
// A missing cookie, a bad signature, or an expired token all mean "no
// session" rather than an error: unlike the whoami path there is no remote
// service whose unavailability must fail the request.
func (m *SessionManager) Verify(ctx context.Context, cookieHeader string) (*identity.Session, error) {
	token := m.sessionTokenFromHeader(cookieHeader)
	if token == "" {
		return nil, nil
	}

	claims, err := m.parse(token)
	if err != nil {
		return nil, nil
	}

	return &identity.Session{
		IdentityID: claims.IdentityID,
		Email:      claims.Email,
	}, nil
}

// sessionTokenFromHeader extracts the session cookie value from a raw Cookie header.
func (m *SessionManager) sessionTokenFromHeader(cookieHeader string) string {
	if cookieHeader == "" {
		return ""
	}
	cookies, err := http.ParseCookie(cookieHeader)
	if err != nil {
		return ""
	}
	for _, c := range cookies {
		if c.Name == m.cookieName {
			return c.Value
		}
	}
	return ""
}

// parse validates the token signature, expiry, and claims shape.
func (m *SessionManager) parse(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if claims.IdentityID == "" {
		return nil, errors.New("session token missing identity_id")
	}
	return claims, nil
}
