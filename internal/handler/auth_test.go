package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-reviewer/internal/apperror"
	"github.com/sakif/code-reviewer/internal/auth"
	"github.com/sakif/code-reviewer/internal/handler"
	"github.com/sakif/code-reviewer/internal/model"
	"github.com/sakif/code-reviewer/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// MockAuthenticator records what the handler passed and returns canned results.
type MockAuthenticator struct {
	Result    *service.AuthResult
	Err       error
	User      *model.User
	LastInput service.RegisterInput
	LastEmail string
	LastCode  string
	LastFlow  auth.OAuthFlow
	LoggedOut []string
}

func (m *MockAuthenticator) Register(_ context.Context, in service.RegisterInput) (*service.AuthResult, error) {
	m.LastInput = in
	return m.Result, m.Err
}

func (m *MockAuthenticator) LoginLocal(_ context.Context, email, _ string) (*service.AuthResult, error) {
	m.LastEmail = email
	return m.Result, m.Err
}

func (m *MockAuthenticator) LoginOAuth(_ context.Context, code string, flow auth.OAuthFlow) (*service.AuthResult, error) {
	m.LastCode = code
	m.LastFlow = flow
	return m.Result, m.Err
}

func (m *MockAuthenticator) Logout(token string) {
	m.LoggedOut = append(m.LoggedOut, token)
}

func (m *MockAuthenticator) GetUserByID(_ context.Context, id string) (*model.User, error) {
	if m.User == nil || m.User.ID != id {
		return nil, apperror.NotFound("user", id)
	}
	return m.User, nil
}

func (m *MockAuthenticator) TokenLifetime() time.Duration { return time.Hour }

// MockExchanger only needs AuthURL; the handler delegates exchanges to the service.
type MockExchanger struct{}

func (MockExchanger) AuthURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (MockExchanger) Exchange(context.Context, string, auth.OAuthFlow) (*auth.OAuthUser, error) {
	return nil, apperror.UpstreamAuthFailure("not used")
}

func signedIn() *service.AuthResult {
	return &service.AuthResult{
		User: &model.User{
			ID:           "u1",
			Email:        "ada@example.com",
			FirstName:    "Ada",
			LastName:     "Lovelace",
			PasswordHash: "$2a$04$secret",
		},
		Token: "signed.jwt.token",
	}
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatalf("no %q cookie in response", auth.CookieName)
	return nil
}

func TestAuthHandler_HandleRegister(t *testing.T) {
	logger := testLogger()

	t.Run("creates account and sets cookie", func(t *testing.T) {
		svc := &MockAuthenticator{Result: signedIn()}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{}, logger)

		body := `{"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com","password":"hunter22"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/register", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()

		h.HandleRegister(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, "Ada", svc.LastInput.FirstName)
		assert.Equal(t, "hunter22", svc.LastInput.Password)

		c := sessionCookie(t, rr)
		assert.Equal(t, "signed.jwt.token", c.Value)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, 3600, c.MaxAge)

		var res map[string]interface{}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, true, res["success"])
		user := res["user"].(map[string]interface{})
		assert.Equal(t, "ada@example.com", user["email"])
		assert.NotContains(t, rr.Body.String(), "secret", "password hash must never be serialised")
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc := &MockAuthenticator{Err: apperror.Conflict("user", "email already registered")}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{}, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/register", bytes.NewBufferString(`{"email":"a@b.co"}`))
		rr := httptest.NewRecorder()

		h.HandleRegister(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Empty(t, rr.Result().Cookies())
	})

	t.Run("invalid json", func(t *testing.T) {
		h := handler.NewAuthHandler(&MockAuthenticator{}, auth.CookieWriter{}, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/register", bytes.NewBufferString(`{"email":`))
		rr := httptest.NewRecorder()

		h.HandleRegister(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		var res handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, "validation_error", res.Error)
	})

	t.Run("validation field is reported", func(t *testing.T) {
		svc := &MockAuthenticator{Err: apperror.ValidationFailed("password", "password must be at least 8 characters")}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{}, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/register", bytes.NewBufferString(`{}`))
		rr := httptest.NewRecorder()

		h.HandleRegister(rr, req)

		var res handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "password", res.Field)
	})
}

func TestAuthHandler_HandleLogin(t *testing.T) {
	logger := testLogger()

	t.Run("valid credentials", func(t *testing.T) {
		svc := &MockAuthenticator{Result: signedIn()}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{Secure: true}, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/login",
			bytes.NewBufferString(`{"email":"ada@example.com","password":"hunter22"}`))
		rr := httptest.NewRecorder()

		h.HandleLogin(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ada@example.com", svc.LastEmail)
		assert.True(t, sessionCookie(t, rr).Secure)
	})

	t.Run("bad credentials", func(t *testing.T) {
		svc := &MockAuthenticator{Err: apperror.Unauthorized("invalid email or password")}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{}, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/login",
			bytes.NewBufferString(`{"email":"ada@example.com","password":"nope"}`))
		rr := httptest.NewRecorder()

		h.HandleLogin(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		var res handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, "unauthorized", res.Error)
		assert.Equal(t, "invalid email or password", res.Message)
	})
}

func TestAuthHandler_HandleGoogle(t *testing.T) {
	logger := testLogger()

	t.Run("code in body uses popup flow", func(t *testing.T) {
		svc := &MockAuthenticator{Result: signedIn()}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{}, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/google", bytes.NewBufferString(`{"code":" 4/abc "}`))
		rr := httptest.NewRecorder()

		h.HandleGoogle(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "4/abc", svc.LastCode)
		assert.Equal(t, auth.FlowPopup, svc.LastFlow)
		sessionCookie(t, rr)
	})

	t.Run("code in query is ignored", func(t *testing.T) {
		svc := &MockAuthenticator{Result: signedIn()}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{}, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/google?code=4%2Fxyz", nil)
		rr := httptest.NewRecorder()

		h.HandleGoogle(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, svc.LastCode, "the exchange must not run")
		assert.Empty(t, rr.Result().Cookies())
	})

	t.Run("rejected code", func(t *testing.T) {
		svc := &MockAuthenticator{Err: apperror.UpstreamAuthFailure("authorization code is invalid or expired")}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{}, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/google", bytes.NewBufferString(`{"code":"used"}`))
		rr := httptest.NewRecorder()

		h.HandleGoogle(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		var res handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, "upstream_auth_failure", res.Error)
	})
}

func TestAuthHandler_GoogleRedirectFlow(t *testing.T) {
	logger := testLogger()

	t.Run("login sets state cookie and redirects", func(t *testing.T) {
		h := handler.NewAuthHandler(&MockAuthenticator{}, auth.CookieWriter{}, logger, handler.WithGoogle(MockExchanger{}))

		rr := httptest.NewRecorder()
		h.HandleGoogleLogin(rr, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

		assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
		var state string
		for _, c := range rr.Result().Cookies() {
			if c.Name == auth.StateCookieName {
				state = c.Value
			}
		}
		require.NotEmpty(t, state)
		assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`), state, "32 random bytes, base64url")
		assert.Contains(t, rr.Header().Get("Location"), "state="+state)

		again := httptest.NewRecorder()
		h.HandleGoogleLogin(again, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
		for _, c := range again.Result().Cookies() {
			if c.Name == auth.StateCookieName {
				assert.NotEqual(t, state, c.Value)
			}
		}
	})

	t.Run("login without google configured", func(t *testing.T) {
		h := handler.NewAuthHandler(&MockAuthenticator{}, auth.CookieWriter{}, logger)

		rr := httptest.NewRecorder()
		h.HandleGoogleLogin(rr, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("callback with matching state", func(t *testing.T) {
		svc := &MockAuthenticator{Result: signedIn()}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{}, logger,
			handler.WithGoogle(MockExchanger{}), handler.WithAfterLoginURL("http://localhost:5173/"))

		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c1&state=s1", nil)
		req.AddCookie(&http.Cookie{Name: auth.StateCookieName, Value: "s1"})
		rr := httptest.NewRecorder()

		h.HandleGoogleCallback(rr, req)

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "http://localhost:5173/", rr.Header().Get("Location"))
		assert.Equal(t, "c1", svc.LastCode)
		assert.Equal(t, auth.FlowRedirect, svc.LastFlow)
		assert.Equal(t, "signed.jwt.token", sessionCookie(t, rr).Value)
	})

	t.Run("callback with mismatched state", func(t *testing.T) {
		svc := &MockAuthenticator{Result: signedIn()}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{}, logger, handler.WithGoogle(MockExchanger{}))

		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c1&state=forged", nil)
		req.AddCookie(&http.Cookie{Name: auth.StateCookieName, Value: "s1"})
		rr := httptest.NewRecorder()

		h.HandleGoogleCallback(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, svc.LastCode, "the code must not be exchanged")
	})

	t.Run("callback without state cookie", func(t *testing.T) {
		h := handler.NewAuthHandler(&MockAuthenticator{}, auth.CookieWriter{}, logger, handler.WithGoogle(MockExchanger{}))

		rr := httptest.NewRecorder()
		h.HandleGoogleCallback(rr, httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c1&state=s1", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("user denied consent", func(t *testing.T) {
		svc := &MockAuthenticator{}
		h := handler.NewAuthHandler(svc, auth.CookieWriter{}, logger, handler.WithGoogle(MockExchanger{}))

		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied&state=s1", nil)
		req.AddCookie(&http.Cookie{Name: auth.StateCookieName, Value: "s1"})
		rr := httptest.NewRecorder()

		h.HandleGoogleCallback(rr, req)

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/?auth=denied", rr.Header().Get("Location"))
		assert.Empty(t, svc.LastCode)
	})
}

func TestAuthHandler_HandleLogout(t *testing.T) {
	svc := &MockAuthenticator{}
	h := handler.NewAuthHandler(svc, auth.CookieWriter{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/user/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "old.jwt.token"})
	rr := httptest.NewRecorder()

	h.HandleLogout(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"old.jwt.token"}, svc.LoggedOut)

	c := sessionCookie(t, rr)
	assert.Empty(t, c.Value)
	assert.Less(t, c.MaxAge, 0)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "/", c.Path)
	assert.JSONEq(t, `{"success":true,"message":"Logged out successfully"}`, rr.Body.String())
}

func TestAuthHandler_HandleMe(t *testing.T) {
	logger := testLogger()
	user := signedIn().User

	t.Run("returns profile", func(t *testing.T) {
		h := handler.NewAuthHandler(&MockAuthenticator{User: user}, auth.CookieWriter{}, logger)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/user/me", nil)
		req = req.WithContext(auth.WithUserID(req.Context(), "u1"))
		rr := httptest.NewRecorder()

		h.HandleMe(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"email":"ada@example.com"`)
		assert.NotContains(t, rr.Body.String(), "secret")
	})

	t.Run("unknown user", func(t *testing.T) {
		h := handler.NewAuthHandler(&MockAuthenticator{User: user}, auth.CookieWriter{}, logger)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/user/me", nil)
		req = req.WithContext(auth.WithUserID(req.Context(), "ghost"))
		rr := httptest.NewRecorder()

		h.HandleMe(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
