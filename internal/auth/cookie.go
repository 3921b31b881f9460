package auth

import (
	"net/http"
	"time"
)

const (
	// CookieName is the HttpOnly cookie that carries the session JWT.
	CookieName = "token"

	// StateCookieName holds the single-use CSRF state of the redirect OAuth flow.
	StateCookieName = "oauth_state"

	stateCookieTTL = 10 * time.Minute
)

// CookieWriter sets and clears the session and OAuth state cookies with one
// consistent set of attributes.
//
// Cookie attributes:
//   - HttpOnly: JavaScript cannot read the JWT, so XSS cannot steal it
//   - SameSite=Lax: sent on top-level navigations, not on cross-site POSTs
//   - Secure: only when the public base URL is https
type CookieWriter struct {
	Secure bool
}

// SetSession stores token in the session cookie for ttl.
func (c CookieWriter) SetSession(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, c.cookie(CookieName, token, int(ttl.Seconds())))
}

// ClearSession expires the session cookie with the same attributes it was
// set with, so the browser actually drops it.
func (c CookieWriter) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(CookieName, "", -1))
}

// SetState stores the OAuth state nonce.
func (c CookieWriter) SetState(w http.ResponseWriter, state string) {
	http.SetCookie(w, c.cookie(StateCookieName, state, int(stateCookieTTL.Seconds())))
}

// ClearState expires the OAuth state cookie once it has been checked.
func (c CookieWriter) ClearState(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(StateCookieName, "", -1))
}

func (c CookieWriter) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// TokenFromRequest returns the session token carried by r, or "" if none.
func TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
