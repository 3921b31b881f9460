// Package config loads the server configuration.
//
// Sources, later ones win:
//  1. Built-in defaults
//  2. An optional YAML file named by CONFIG_FILE
//  3. Environment variables (main loads .env into the environment first)
//
// The result is read once at startup and treated as immutable.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Quota backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds every setting the server needs.
type Config struct {
	// Server
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
	AppEnv  string `yaml:"app_env"`

	// Database
	DBPath string `yaml:"db_path"`

	// Session
	JWTSecret             string        `yaml:"jwt_secret"`
	SessionTTL            time.Duration `yaml:"session_ttl"`
	SessionRevokeOnLogout bool          `yaml:"session_revoke_on_logout"`

	Google GoogleConfig `yaml:"google"`
	Gemini GeminiConfig `yaml:"gemini"`
	Quota  QuotaConfig  `yaml:"quota"`

	MaxCodeLength int `yaml:"max_code_length"`

	// PromptTemplate replaces the built-in review prompt. YAML only.
	PromptTemplate string `yaml:"prompt_template"`

	// Auth throttle
	AuthRatePerMinute int `yaml:"auth_rate_per_minute"`
	AuthRateBurst     int `yaml:"auth_rate_burst"`

	CORSAllowedOrigin string `yaml:"cors_allowed_origin"`

	// Logging and error reporting
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	SentryDSN string `yaml:"sentry_dsn"`
}

// GoogleConfig holds the OAuth client. Google sign-in is disabled when
// ClientID is empty.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// GeminiConfig configures the AI provider.
type GeminiConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// QuotaConfig configures the per-user review quota.
type QuotaConfig struct {
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
	Backend string        `yaml:"backend"`
}

// Default returns the configuration used when nothing is overridden.
// JWTSecret has no default and must be supplied.
func Default() *Config {
	return &Config{
		Port:       8080,
		BaseURL:    "http://localhost:8080",
		AppEnv:     "development",
		DBPath:     "data/code-reviewer.db",
		SessionTTL: 24 * time.Hour,
		Gemini: GeminiConfig{
			Model:   "gemini-2.0-flash",
			Timeout: 60 * time.Second,
		},
		Quota: QuotaConfig{
			Limit:   10,
			Window:  24 * time.Hour,
			Backend: BackendSQLite,
		},
		MaxCodeLength:     20000,
		AuthRatePerMinute: 20,
		AuthRateBurst:     10,
		CORSAllowedOrigin: "http://localhost:5173",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds the configuration from defaults, CONFIG_FILE and the
// environment, then validates it. Every problem found is reported in one
// joined error.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	var problems []error
	cfg.applyEnv(&problems)
	if err := cfg.Validate(); err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(problems...))
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(problems *[]error) {
	envString("BASE_URL", &c.BaseURL)
	envString("APP_ENV", &c.AppEnv)
	envString("DB_PATH", &c.DBPath)
	envString("JWT_SECRET", &c.JWTSecret)
	envString("GOOGLE_CLIENT_ID", &c.Google.ClientID)
	envString("GOOGLE_CLIENT_SECRET", &c.Google.ClientSecret)
	envString("GOOGLE_REDIRECT_URL", &c.Google.RedirectURL)
	envString("GEMINI_API_KEY", &c.Gemini.APIKey)
	envString("GEMINI_MODEL", &c.Gemini.Model)
	envString("GEMINI_BASE_URL", &c.Gemini.BaseURL)
	envString("QUOTA_BACKEND", &c.Quota.Backend)
	envString("CORS_ALLOWED_ORIGIN", &c.CORSAllowedOrigin)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("SENTRY_DSN", &c.SentryDSN)

	envInt("PORT", &c.Port, problems)
	envInt("QUOTA_LIMIT", &c.Quota.Limit, problems)
	envInt("MAX_CODE_LENGTH", &c.MaxCodeLength, problems)
	envInt("AUTH_RATE_PER_MINUTE", &c.AuthRatePerMinute, problems)
	envInt("AUTH_RATE_BURST", &c.AuthRateBurst, problems)

	envDuration("SESSION_TTL", &c.SessionTTL, problems)
	envDuration("PROVIDER_TIMEOUT", &c.Gemini.Timeout, problems)
	envDuration("QUOTA_WINDOW", &c.Quota.Window, problems)

	envBool("SESSION_REVOKE_ON_LOGOUT", &c.SessionRevokeOnLogout, problems)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.JWTSecret == "" {
		add("JWT_SECRET is required")
	} else if len(c.JWTSecret) < 16 {
		add("JWT_SECRET must be at least 16 characters")
	}
	if c.Port < 1 || c.Port > 65535 {
		add("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.SessionTTL <= 0 {
		add("SESSION_TTL must be positive")
	}
	if c.Google.ClientID != "" && c.Google.ClientSecret == "" {
		add("GOOGLE_CLIENT_SECRET is required when GOOGLE_CLIENT_ID is set")
	}
	if c.Gemini.Timeout <= 0 {
		add("PROVIDER_TIMEOUT must be positive")
	}
	if c.Quota.Limit < 1 {
		add("QUOTA_LIMIT must be at least 1, got %d", c.Quota.Limit)
	}
	if c.Quota.Window <= 0 {
		add("QUOTA_WINDOW must be positive")
	}
	if c.Quota.Backend != BackendSQLite && c.Quota.Backend != BackendMemory {
		add("QUOTA_BACKEND must be %q or %q, got %q", BackendSQLite, BackendMemory, c.Quota.Backend)
	}
	if c.MaxCodeLength < 1 {
		add("MAX_CODE_LENGTH must be at least 1")
	}
	if c.AuthRatePerMinute < 1 || c.AuthRateBurst < 1 {
		add("AUTH_RATE_PER_MINUTE and AUTH_RATE_BURST must be at least 1")
	}
	if c.CORSAllowedOrigin == "*" {
		add("CORS_ALLOWED_ORIGIN cannot be a wildcard with credentialed requests")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		problems = append(problems, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		add("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	return errors.Join(problems...)
}

// CookieSecure reports whether session cookies need the Secure attribute.
func (c *Config) CookieSecure() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// GoogleRedirectURL is the callback of the redirect OAuth flow, derived from
// BaseURL unless set explicitly.
func (c *Config) GoogleRedirectURL() string {
	if c.Google.RedirectURL != "" {
		return c.Google.RedirectURL
	}
	return strings.TrimRight(c.BaseURL, "/") + "/auth/google/callback"
}

// NewLogger builds the process logger: text by default, JSON when
// LOG_FORMAT=json.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
	return level, nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int, problems *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, fmt.Errorf("%s: %q is not an integer", key, v))
		return
	}
	*dst = i
}

func envDuration(key string, dst *time.Duration, problems *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*problems = append(*problems, fmt.Errorf("%s: %q is not a duration", key, v))
		return
	}
	*dst = d
}

func envBool(key string, dst *bool, problems *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*problems = append(*problems, fmt.Errorf("%s: %q is not a boolean", key, v))
		return
	}
	*dst = b
}
