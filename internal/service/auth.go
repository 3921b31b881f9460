// Package service holds the business rules. Handlers translate HTTP to
// service calls; services talk to repositories and the auth utilities.
//
//	AuthHandler (HTTP)   → AuthService   → UserRepository (DB)
//	                                     ↘ TokenService / OAuthExchanger
//	ReviewHandler (HTTP) → ReviewService → quota.Meter → llm.Provider
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/code-reviewer/internal/apperror"
	"github.com/sakif/code-reviewer/internal/auth"
	"github.com/sakif/code-reviewer/internal/metrics"
	"github.com/sakif/code-reviewer/internal/model"
	"github.com/sakif/code-reviewer/internal/repository"
)

const (
	maxNameLength  = 50
	maxEmailLength = 254

	// invalidCredentials is the one message for every local login failure,
	// so responses never reveal whether an email is registered.
	invalidCredentials = "invalid email or password"
)

// Auth methods reported to metrics.
const (
	methodRegister = "register"
	methodLocal    = "local"
	methodGoogle   = "google"
)

// AuthService is the Session Manager: it registers accounts, logs them in
// with a password or Google, and resolves session tokens to users.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	sessions  *auth.SessionVerifier
	passwords *auth.PasswordService
	oauth     auth.OAuthExchanger // nil when Google sign-in is not configured
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// AuthOption configures optional AuthService behaviour.
type AuthOption func(*AuthService)

// WithDenylist revokes tokens on logout. Without it logout only clears the
// cookie and the token stays valid until it expires.
func WithDenylist(d *auth.Denylist) AuthOption {
	return func(s *AuthService) {
		s.sessions = auth.NewSessionVerifier(s.tokens, d)
	}
}

// WithOAuth enables LoginOAuth.
func WithOAuth(x auth.OAuthExchanger) AuthOption {
	return func(s *AuthService) { s.oauth = x }
}

// WithAuthMetrics reports auth attempts to r.
func WithAuthMetrics(r metrics.Recorder) AuthOption {
	return func(s *AuthService) {
		if r != nil {
			s.metrics = r
		}
	}
}

// NewAuthService creates an AuthService.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
	opts ...AuthOption,
) *AuthService {
	s := &AuthService{
		users:     users,
		tokens:    tokens,
		sessions:  auth.NewSessionVerifier(tokens, nil),
		passwords: passwords,
		metrics:   metrics.Nop{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verifier resolves session tokens, honouring the denylist when enabled.
// The auth middlewares use it.
func (s *AuthService) Verifier() auth.Verifier {
	return s.sessions
}

// TokenLifetime is the session length, used as the cookie Max-Age.
func (s *AuthService) TokenLifetime() time.Duration {
	return s.tokens.Lifetime()
}

// AuthResult bundles the user and the issued session token so the handler
// can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a local account and signs it in.
//
// Errors: apperror.ErrValidation for a malformed email, a blank or overlong
// name or a weak password; apperror.ErrConflict if the email is taken by any
// account, including one that only signs in with Google.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		s.metrics.RecordAuth(methodRegister, "invalid")
		return nil, err
	}
	first, err := validateName("firstName", "first name", in.FirstName)
	if err != nil {
		s.metrics.RecordAuth(methodRegister, "invalid")
		return nil, err
	}
	last, err := validateName("lastName", "last name", in.LastName)
	if err != nil {
		s.metrics.RecordAuth(methodRegister, "invalid")
		return nil, err
	}
	if err := auth.ValidateStrength(in.Password); err != nil {
		s.metrics.RecordAuth(methodRegister, "invalid")
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Email:        email,
		FirstName:    first,
		LastName:     last,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			s.metrics.RecordAuth(methodRegister, "conflict")
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID))
	s.metrics.RecordAuth(methodRegister, "ok")

	return s.issue(user)
}

// LoginLocal checks email and password.
//
// Unknown email, an account without a password and a wrong password all
// return the same apperror.ErrUnauthorized. Unknown emails still pay for one
// bcrypt comparison so the timing matches.
func (s *AuthService) LoginLocal(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		s.metrics.RecordAuth(methodLocal, "invalid")
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		s.passwords.CompareDummy(password)
		s.metrics.RecordAuth(methodLocal, "rejected")
		return nil, apperror.Unauthorized(invalidCredentials)
	case err != nil:
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !user.HasPassword() {
		s.passwords.CompareDummy(password)
		s.metrics.RecordAuth(methodLocal, "rejected")
		return nil, apperror.Unauthorized(invalidCredentials)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash is unreadable",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		s.metrics.RecordAuth(methodLocal, "rejected")
		return nil, apperror.Unauthorized(invalidCredentials)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID), slog.String("method", methodLocal))
	s.metrics.RecordAuth(methodLocal, "ok")

	return s.issue(user)
}

// LoginOAuth exchanges a Google authorization code and signs the owner of
// the verified email in, creating or linking the account as needed:
//
//   - no account with that email → create one linked to Google, no password
//   - account exists, not linked → link it
//   - account exists, linked     → sign in
func (s *AuthService) LoginOAuth(ctx context.Context, code string, flow auth.OAuthFlow) (*AuthResult, error) {
	if s.oauth == nil {
		return nil, apperror.UpstreamAuthFailure("google sign-in is not configured")
	}

	profile, err := s.oauth.Exchange(ctx, code, flow)
	if err != nil {
		s.metrics.RecordAuth(methodGoogle, "rejected")
		s.logger.Warn("oauth exchange failed", slog.String("error", err.Error()))
		if errors.Is(err, apperror.ErrUpstreamAuth) || errors.Is(err, apperror.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", apperror.UpstreamAuthFailure("google sign-in failed"), err)
	}

	user, err := s.findOrCreateOAuthUser(ctx, profile)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID), slog.String("method", methodGoogle))
	s.metrics.RecordAuth(methodGoogle, "ok")

	return s.issue(user)
}

func (s *AuthService) findOrCreateOAuthUser(ctx context.Context, profile *auth.OAuthUser) (*model.User, error) {
	user, err := s.users.GetByEmail(ctx, profile.Email)
	if errors.Is(err, apperror.ErrNotFound) {
		first, last := splitName(profile.Name, profile.Email)
		user = &model.User{
			Email:         profile.Email,
			FirstName:     first,
			LastName:      last,
			OAuthProvider: model.OAuthProviderGoogle,
			OAuthSubject:  profile.Subject,
		}
		err = s.users.Create(ctx, user)
		if err == nil {
			s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("method", methodGoogle))
			return user, nil
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("service/auth: creating oauth user: %w", err)
		}
		// Lost the race with a concurrent sign-up for the same email.
		user, err = s.users.GetByEmail(ctx, profile.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up oauth user: %w", err)
	}

	if user.HasOAuth() {
		if user.OAuthSubject != profile.Subject {
			s.logger.Warn("google subject differs from linked subject", slog.String("userID", user.ID))
		}
		return user, nil
	}

	linked, err := s.users.LinkOAuth(ctx, user.ID, model.OAuthProviderGoogle, profile.Subject)
	if err != nil {
		return nil, fmt.Errorf("service/auth: linking user %s: %w", user.ID, err)
	}
	s.logger.Info("account linked to google", slog.String("userID", user.ID))
	return linked, nil
}

// Logout revokes token when the denylist is enabled. The handler clears the
// cookie either way; an invalid token is not an error.
func (s *AuthService) Logout(token string) {
	if token == "" {
		return
	}
	if s.sessions.Revoke(token) {
		s.logger.Debug("session revoked")
	}
}

// CurrentIdentity resolves token to its user. Missing, invalid, expired and
// revoked tokens, and tokens whose user no longer exists, all yield
// (nil, false): the caller is anonymous, never an error.
func (s *AuthService) CurrentIdentity(ctx context.Context, token string) (*model.User, bool) {
	userID, err := s.sessions.Verify(token)
	if err != nil {
		return nil, false
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("resolving session user", slog.String("userID", userID), slog.String("error", err.Error()))
		}
		return nil, false
	}
	return user, true
}

// GetUserByID returns the user for an internal ID taken from a verified
// session.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("valid authentication required")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// normalizeEmail lower-cases and validates a bare address ("a@b.c", no
// display name).
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > maxEmailLength {
		return "", apperror.ValidationFailed("email", "email is too long")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", apperror.ValidationFailed("email", "email address is invalid")
	}
	domain := email[strings.LastIndexByte(email, '@')+1:]
	if !strings.Contains(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", apperror.ValidationFailed("email", "email address is invalid")
	}
	return email, nil
}

func validateName(field, label, raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperror.ValidationFailed(field, label+" is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", apperror.ValidationFailed(field, fmt.Sprintf("%s must be %d characters or fewer", label, maxNameLength))
	}
	return name, nil
}

// splitName turns a provider display name into first and last names on the
// first space. An empty name falls back to the email's local part.
func splitName(name, email string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		local, _, _ := strings.Cut(email, "@")
		return truncateRunes(local, maxNameLength), ""
	}
	first, last, _ = strings.Cut(name, " ")
	return truncateRunes(first, maxNameLength), truncateRunes(strings.TrimSpace(last), maxNameLength)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
