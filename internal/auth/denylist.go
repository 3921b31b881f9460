package auth

import (
	"sync"
	"time"
)

// Denylist holds token IDs revoked by logout until their natural expiry.
//
// It lives in process memory: a restart forgets revocations, which is
// acceptable because tokens are short-lived and logout also clears the
// cookie. Expired entries are dropped lazily and by Sweep.
type Denylist struct {
	mu      sync.Mutex
	entries map[string]time.Time // jti -> token expiry
	now     func() time.Time
}

// NewDenylist creates an empty Denylist. A nil clock means time.Now.
func NewDenylist(now func() time.Time) *Denylist {
	if now == nil {
		now = time.Now
	}
	return &Denylist{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

// Revoke denylists jti until expiresAt. Already-expired tokens are ignored.
func (d *Denylist) Revoke(jti string, expiresAt time.Time) {
	if jti == "" || !d.now().Before(expiresAt) {
		return
	}
	d.mu.Lock()
	d.entries[jti] = expiresAt
	d.mu.Unlock()
}

// Revoked reports whether jti has been revoked and has not yet expired.
func (d *Denylist) Revoked(jti string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.entries[jti]
	if !ok {
		return false
	}
	if !d.now().Before(exp) {
		delete(d.entries, jti)
		return false
	}
	return true
}

// Sweep removes every expired entry and returns how many it removed.
func (d *Denylist) Sweep() int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for jti, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, jti)
			removed++
		}
	}
	return removed
}

// Verifier resolves a session token to a user ID.
// Implementations return ErrInvalidToken for every kind of failure.
type Verifier interface {
	Verify(token string) (string, error)
}

// SessionVerifier verifies tokens and, when a Denylist is attached, rejects
// revoked ones.
type SessionVerifier struct {
	tokens   *TokenService
	denylist *Denylist // nil when revocation on logout is disabled
}

// NewSessionVerifier combines a TokenService with an optional Denylist.
func NewSessionVerifier(tokens *TokenService, denylist *Denylist) *SessionVerifier {
	return &SessionVerifier{tokens: tokens, denylist: denylist}
}

// Verify implements Verifier.
func (v *SessionVerifier) Verify(token string) (string, error) {
	c, err := v.tokens.Parse(token)
	if err != nil {
		return "", err
	}
	if v.denylist != nil && v.denylist.Revoked(c.TokenID) {
		return "", ErrInvalidToken
	}
	return c.UserID, nil
}

// Revoke denylists token. It is a no-op when revocation is disabled or the
// token does not verify.
func (v *SessionVerifier) Revoke(token string) bool {
	if v.denylist == nil {
		return false
	}
	c, err := v.tokens.Parse(token)
	if err != nil {
		return false
	}
	v.denylist.Revoke(c.TokenID, c.ExpiresAt)
	return true
}

var (
	_ Verifier = (*TokenService)(nil)
	_ Verifier = (*SessionVerifier)(nil)
)
