package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/code-reviewer/internal/apperror"
	"github.com/sakif/code-reviewer/internal/auth"
	"github.com/sakif/code-reviewer/internal/model"
	"github.com/sakif/code-reviewer/internal/service"
)

// Authenticator is the part of service.AuthService the handlers use.
type Authenticator interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	LoginLocal(ctx context.Context, email, password string) (*service.AuthResult, error)
	LoginOAuth(ctx context.Context, code string, flow auth.OAuthFlow) (*service.AuthResult, error)
	Logout(token string)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	TokenLifetime() time.Duration
}

// AuthHandler serves registration, login (local and Google), logout and the
// current-user endpoint.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister, HandleLogin → local accounts
//   - HandleGoogle                → popup flow, the browser posts the code
//   - HandleGoogleLogin/Callback  → redirect flow with a state cookie
//   - HandleLogout                → clear the cookie, revoke if enabled
//   - HandleMe                    → profile of the signed-in user
type AuthHandler struct {
	svc        Authenticator
	google     auth.OAuthExchanger // nil when Google sign-in is not configured
	cookies    auth.CookieWriter
	afterLogin string
	logger     *slog.Logger
}

// AuthHandlerOption customises an AuthHandler.
type AuthHandlerOption func(*AuthHandler)

// WithGoogle enables the redirect OAuth flow.
func WithGoogle(x auth.OAuthExchanger) AuthHandlerOption {
	return func(h *AuthHandler) { h.google = x }
}

// WithAfterLoginURL sets where the redirect flow sends the browser once
// signed in. Defaults to "/".
func WithAfterLoginURL(u string) AuthHandlerOption {
	return func(h *AuthHandler) {
		if u != "" {
			h.afterLogin = u
		}
	}
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc Authenticator, cookies auth.CookieWriter, logger *slog.Logger, opts ...AuthHandlerOption) *AuthHandler {
	h := &AuthHandler{
		svc:        svc,
		cookies:    cookies,
		afterLogin: "/",
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// authResponse is the body of every successful sign-in.
type authResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleRequest struct {
	Code string `json:"code"`
}

// HandleRegister creates a local account and signs it in.
//
// HTTP: POST /api/v1/user/register
// Request body: {"firstName": "...", "lastName": "...", "email": "...", "password": "..."}
// Response: 201 Created + session cookie
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.cookies.SetSession(w, res.Token, h.svc.TokenLifetime())
	writeJSON(w, http.StatusCreated, authResponse{
		Success: true,
		Message: "Account created successfully",
		User:    res.User,
	})
}

// HandleLogin signs in a local account.
//
// HTTP: POST /api/v1/user/login
// Request body: {"email": "...", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.LoginLocal(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.cookies.SetSession(w, res.Token, h.svc.TokenLifetime())
	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		Message: "Logged in successfully",
		User:    res.User,
	})
}

// HandleGoogle completes the popup auth-code flow. The code arrives as
// {"code": "..."} in the JSON body; a ?code= query parameter is ignored.
// The popup flow carries no state, so a plain link must not be able to
// sign the browser in.
//
// HTTP: POST /api/v1/user/google
func (h *AuthHandler) HandleGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.LoginOAuth(r.Context(), strings.TrimSpace(req.Code), auth.FlowPopup)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.cookies.SetSession(w, res.Token, h.svc.TokenLifetime())
	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		Message: "Logged in with Google",
		User:    res.User,
	})
}

// HandleGoogleLogin redirects the browser to Google's consent page.
//
// HTTP: GET /auth/google/login
//
// CSRF PROTECTION VIA STATE:
// A random state is stored in a short-lived HttpOnly cookie, and
// HandleGoogleCallback checks that Google echoed the same value back.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, r, apperror.UpstreamAuthFailure("google sign-in is not configured"))
		return
	}

	state, err := newState()
	if err != nil {
		writeError(w, r, fmt.Errorf("generating oauth state: %w", err))
		return
	}
	h.cookies.SetState(w, state)
	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the redirect flow.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check) and clear the state cookie
//  2. Exchange the code and sign the user in
//  3. Set the session cookie and redirect to the app
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(auth.StateCookieName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("google callback: state mismatch")
		writeError(w, r, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// Single-use
	h.cookies.ClearState(w)

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("google callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, h.afterLogin+"?auth=denied", http.StatusSeeOther)
		return
	}

	res, err := h.svc.LoginOAuth(r.Context(), r.URL.Query().Get("code"), auth.FlowRedirect)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.cookies.SetSession(w, res.Token, h.svc.TokenLifetime())
	http.Redirect(w, r, h.afterLogin, http.StatusSeeOther)
}

// HandleLogout clears the session cookie.
//
// HTTP: GET|POST /api/v1/user/logout
//
// Tokens are stateless, so unless the denylist is enabled the token stays
// technically valid until it expires; without the cookie the browser can no
// longer send it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.svc.Logout(auth.TokenFromRequest(r))
	h.cookies.ClearSession(w)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logged out successfully",
	})
}

// HandleMe returns the signed-in user's profile.
//
// HTTP: GET /api/v1/user/me
// Auth: Required (RequireAuth middleware sets userID in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.svc.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}

// newState returns 32 random bytes, base64url encoded without padding.
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
