package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sakif/code-reviewer/internal/apperror"
)

const (
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	// popupRedirectURI is what Google's JS client uses for the popup
	// auth-code flow: the code is posted back to the opener window instead
	// of being delivered to a callback URL.
	popupRedirectURI = "postmessage"
)

// OAuthFlow selects the redirect_uri sent with the code exchange. Google
// requires it to match the one used when the code was issued.
type OAuthFlow int

const (
	// FlowPopup is the browser popup flow (redirect_uri=postmessage).
	FlowPopup OAuthFlow = iota
	// FlowRedirect is the classic redirect to /auth/google/callback.
	FlowRedirect
)

// OAuthUser is the identity asserted by the provider after a successful
// code exchange.
type OAuthUser struct {
	Subject       string // stable provider user id ("sub")
	Email         string
	Name          string
	EmailVerified bool
}

// OAuthExchanger turns an authorization code into a verified OAuthUser.
// GoogleProvider is the production implementation; service tests use fakes.
type OAuthExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string, flow OAuthFlow) (*OAuthUser, error)
}

// GoogleConfig configures GoogleProvider. The endpoint and userinfo URLs
// default to Google's and are overridable so tests can point them at an
// httptest server.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string // callback URL for FlowRedirect

	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
}

// GoogleProvider wraps golang.org/x/oauth2 for the Google authorization code
// flow.
//
// Steps of an exchange:
//  1. POST the code to the token endpoint with our client secret
//  2. Call the OpenID userinfo endpoint with the resulting access token
//  3. Reject profiles without a subject or without a verified email
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogleProvider creates a GoogleProvider.
//
// Scopes requested:
//   - "openid": the stable subject id
//   - "email": the address, plus whether Google has verified it
//   - "profile": the display name used to prefill first/last name
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultGoogleUserInfoURL
	}

	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  cfg.HTTPClient,
	}
}

// AuthURL returns the Google consent URL for the redirect flow. state is
// echoed back to the callback and checked against the oauth_state cookie.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// googleUserInfo is the subset of the userinfo response we read.
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Exchange trades code for the user's Google profile.
//
// Every failure, including a replayed or expired code (invalid_grant), is
// returned as apperror.UpstreamAuthFailure with the cause wrapped alongside.
func (p *GoogleProvider) Exchange(ctx context.Context, code string, flow OAuthFlow) (*OAuthUser, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "authorization code is required")
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	var opts []oauth2.AuthCodeOption
	if flow == FlowPopup {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", popupRedirectURI))
	}

	tok, err := p.config.Exchange(ctx, code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: %w", apperror.UpstreamAuthFailure("authorization code is invalid or expired"), err)
		}
		return nil, fmt.Errorf("%w: %w", apperror.UpstreamAuthFailure("google sign-in failed"), err)
	}

	// oauth2.Config.Client adds "Authorization: Bearer <token>" to every call.
	client := p.config.Client(ctx, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling userinfo: %w", apperror.UpstreamAuthFailure("google sign-in failed"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo returned status %d", apperror.UpstreamAuthFailure("google sign-in failed"), resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decoding userinfo: %w", apperror.UpstreamAuthFailure("google sign-in failed"), err)
	}

	if info.Sub == "" {
		return nil, apperror.UpstreamAuthFailure("google returned a profile without a subject")
	}
	if info.Email == "" || !info.EmailVerified {
		return nil, apperror.UpstreamAuthFailure("google account email is not verified")
	}

	return &OAuthUser{
		Subject:       info.Sub,
		Email:         strings.ToLower(strings.TrimSpace(info.Email)),
		Name:          strings.TrimSpace(info.Name),
		EmailVerified: info.EmailVerified,
	}, nil
}

var _ OAuthExchanger = (*GoogleProvider)(nil)
