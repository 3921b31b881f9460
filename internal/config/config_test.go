package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-at-least-16-chars!!"

// isolateEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "BASE_URL", "APP_ENV", "DB_PATH", "JWT_SECRET",
		"SESSION_TTL", "SESSION_REVOKE_ON_LOGOUT", "GOOGLE_CLIENT_ID",
		"GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URL", "GEMINI_API_KEY",
		"GEMINI_MODEL", "GEMINI_BASE_URL", "PROVIDER_TIMEOUT", "QUOTA_LIMIT",
		"QUOTA_WINDOW", "QUOTA_BACKEND", "MAX_CODE_LENGTH", "AUTH_RATE_PER_MINUTE",
		"AUTH_RATE_BURST", "CORS_ALLOWED_ORIGIN", "LOG_LEVEL", "LOG_FORMAT",
		"SENTRY_DSN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", secret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.SessionRevokeOnLogout)
	assert.Equal(t, 10, cfg.Quota.Limit)
	assert.Equal(t, 24*time.Hour, cfg.Quota.Window)
	assert.Equal(t, BackendSQLite, cfg.Quota.Backend)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Equal(t, 60*time.Second, cfg.Gemini.Timeout)
	assert.Equal(t, "http://localhost:5173", cfg.CORSAllowedOrigin)
	assert.False(t, cfg.CookieSecure())
	assert.Equal(t, "http://localhost:8080/auth/google/callback", cfg.GoogleRedirectURL())
}

func TestLoad_MissingSecret(t *testing.T) {
	isolateEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", secret)
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://review.example.com")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("SESSION_REVOKE_ON_LOGOUT", "true")
	t.Setenv("QUOTA_LIMIT", "3")
	t.Setenv("QUOTA_WINDOW", "1h")
	t.Setenv("QUOTA_BACKEND", "memory")
	t.Setenv("PROVIDER_TIMEOUT", "15s")
	t.Setenv("GOOGLE_CLIENT_ID", "cid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "csecret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.SessionRevokeOnLogout)
	assert.Equal(t, 3, cfg.Quota.Limit)
	assert.Equal(t, time.Hour, cfg.Quota.Window)
	assert.Equal(t, BackendMemory, cfg.Quota.Backend)
	assert.Equal(t, 15*time.Second, cfg.Gemini.Timeout)
	assert.True(t, cfg.CookieSecure())
	assert.Equal(t, "https://review.example.com/auth/google/callback", cfg.GoogleRedirectURL())
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("PORT", "eighty")
	t.Setenv("QUOTA_WINDOW", "forever")
	t.Setenv("QUOTA_BACKEND", "redis")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"JWT_SECRET must be at least 16", "PORT", "QUOTA_WINDOW", "QUOTA_BACKEND", "LOG_FORMAT"} {
		assert.Contains(t, msg, want)
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 7070
jwt_secret: yaml-secret-at-least-16-chars
quota:
  limit: 5
  window: 30m
gemini:
  model: gemini-1.5-pro
prompt_template: "Review this {{.Language}} code:\n{{.Code}}"
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("QUOTA_LIMIT", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "yaml-secret-at-least-16-chars", cfg.JWTSecret)
	assert.Equal(t, 8, cfg.Quota.Limit, "env wins over the file")
	assert.Equal(t, 30*time.Minute, cfg.Quota.Window)
	assert.Equal(t, "gemini-1.5-pro", cfg.Gemini.Model)
	assert.Equal(t, 60*time.Second, cfg.Gemini.Timeout, "unset keys keep their defaults")
	assert.Contains(t, cfg.PromptTemplate, "{{.Code}}")
}

func TestLoad_BadYAML(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not an int"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_GoogleNeedsSecret(t *testing.T) {
	cfg := Default()
	cfg.JWTSecret = secret
	cfg.Google.ClientID = "cid"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_CLIENT_SECRET")
}

func TestNewLogger_Format(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("dropped")
	logger.Warn("kept", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "v", line["k"])
}
