// Package llm talks to the AI provider that writes code reviews.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/code-reviewer/internal/apperror"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 60 * time.Second

	maxResponseBytes = 4 << 20
)

// Provider is a black-box text completion service.
//
// Implementations return apperror.ErrUpstream for every failure: transport
// errors, non-2xx statuses, empty completions and timeouts. They never retry.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// GeminiConfig configures a GeminiClient. Zero values select the defaults.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewGeminiClient creates a GeminiClient.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &GeminiClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete sends prompt as a single user turn and returns the concatenated
// text of the first candidate.
//
// The call is bounded by the client timeout and by ctx, so a client
// disconnect cancels it.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", apperror.Upstream("AI provider is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("llm: encoding request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", apperror.Upstream("AI provider timed out"), err)
		}
		return "", fmt.Errorf("%w: %w", apperror.Upstream("AI provider is unreachable"), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", apperror.Upstream("AI provider timed out"), err)
		}
		return "", fmt.Errorf("%w: reading response: %w", apperror.Upstream("AI provider failed"), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		detail := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
			detail = er.Error.Status + ": " + er.Error.Message
		}
		return "", fmt.Errorf("%w: status %d: %s", apperror.Upstream("AI provider returned an error"), resp.StatusCode, truncate(detail, 300))
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", apperror.Upstream("AI provider returned an invalid response"), err)
	}
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", apperror.Upstream("AI provider declined the request"), gr.PromptFeedback.BlockReason)
	}
	if len(gr.Candidates) == 0 {
		return "", apperror.Upstream("AI provider returned no review")
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", apperror.Upstream("AI provider returned no review")
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Provider = (*GeminiClient)(nil)
