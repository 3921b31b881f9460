// Package auth provides session tokens, password hashing, the Google OAuth
// exchange and the HTTP middleware that turns a session cookie into a user ID.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. The user registers, logs in with email/password, or completes Google OAuth
//  2. The server issues a signed JWT and stores it in the HttpOnly "token" cookie
//  3. On subsequent API calls, middleware reads the cookie, verifies the JWT,
//     and sets the userID in the request context
//
// Tokens are stateless: verification needs only the secret and the clock.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims → {"sub":"userID","iat":...,"exp":...,"jti":"..."}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTokenLifetime is how long a session token stays valid.
	DefaultTokenLifetime = 24 * time.Hour

	issuer = "code-reviewer"
)

// ErrInvalidToken is the only error Verify and Parse return.
//
// Malformed, forged, expired and subject-less tokens all collapse into this
// one value so callers cannot tell "expired" from "forged".
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the verified content of a session token.
type Claims struct {
	UserID    string
	TokenID   string // jti; keys the logout denylist
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret key used to sign and verify tokens.
// The same secret must be used for both operations.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithLifetime overrides DefaultTokenLifetime. Non-positive values are ignored.
func WithLifetime(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// WithClock replaces time.Now for issuing and verifying. Tests use it to
// move past a token's expiry without sleeping.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	s := &TokenService{
		secret:   []byte(secret),
		lifetime: DefaultTokenLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lifetime returns the configured token lifetime. Handlers use it as the
// cookie Max-Age so the cookie and the token expire together.
func (s *TokenService) Lifetime() time.Duration {
	return s.lifetime
}

// claims is the JWT payload. It embeds jwt.RegisteredClaims which includes
// standard fields like Issuer, Subject, ExpiresAt, IssuedAt and ID.
type claims struct {
	jwt.RegisteredClaims
}

// Issue creates and signs a new session token for userID.
func (s *TokenService) Issue(userID string) (string, error) {
	return s.IssueWithLifetime(userID, s.lifetime)
}

// IssueWithLifetime creates a token with a custom lifetime.
// A negative lifetime yields an already-expired token (used in tests).
func (s *TokenService) IssueWithLifetime(userID string, d time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: cannot issue a token without a user ID")
	}
	now := s.now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify checks the signature and expiry of tokenStr and returns the user ID
// it was issued for. Any failure returns ErrInvalidToken.
func (s *TokenService) Verify(tokenStr string) (string, error) {
	c, err := s.Parse(tokenStr)
	if err != nil {
		return "", err
	}
	return c.UserID, nil
}

// Parse verifies tokenStr like Verify and returns all of its claims.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid and the algorithm is HS256 (no "none", no RS/HS confusion)
//   - Token is not expired, using the service clock
//   - Issuer matches
func (s *TokenService) Parse(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	c, ok := token.Claims.(*claims)
	if !ok || c.Subject == "" || c.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	out := &Claims{
		UserID:    c.Subject,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	return out, nil
}
