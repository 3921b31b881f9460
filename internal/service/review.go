package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/code-reviewer/internal/apperror"
	"github.com/sakif/code-reviewer/internal/llm"
	"github.com/sakif/code-reviewer/internal/metrics"
	"github.com/sakif/code-reviewer/internal/model"
	"github.com/sakif/code-reviewer/internal/quota"
	"github.com/sakif/code-reviewer/internal/review"
)

const (
	// DefaultMaxCodeLength caps submitted code, in bytes.
	DefaultMaxCodeLength = 20000

	// maxReviewTextLength caps the critique sent back to FixCode.
	maxReviewTextLength = 1 << 20
)

// ReviewService is the Review Proxy: quota admission, then one provider call,
// then improved-code extraction.
type ReviewService struct {
	meter         *quota.Meter
	provider      llm.Provider
	prompts       *review.PromptBuilder
	maxCodeLength int
	now           func() time.Time
	metrics       metrics.Recorder
	logger        *slog.Logger
}

// ReviewOption configures a ReviewService.
type ReviewOption func(*ReviewService)

// WithPromptBuilder replaces the default prompt template.
func WithPromptBuilder(b *review.PromptBuilder) ReviewOption {
	return func(s *ReviewService) {
		if b != nil {
			s.prompts = b
		}
	}
}

// WithMaxCodeLength overrides DefaultMaxCodeLength.
func WithMaxCodeLength(n int) ReviewOption {
	return func(s *ReviewService) {
		if n > 0 {
			s.maxCodeLength = n
		}
	}
}

// WithReviewMetrics reports review outcomes to r.
func WithReviewMetrics(r metrics.Recorder) ReviewOption {
	return func(s *ReviewService) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithReviewClock replaces time.Now for CompletedAt and Retry-After.
func WithReviewClock(now func() time.Time) ReviewOption {
	return func(s *ReviewService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewReviewService creates a ReviewService.
func NewReviewService(meter *quota.Meter, provider llm.Provider, logger *slog.Logger, opts ...ReviewOption) *ReviewService {
	prompts, _ := review.NewPromptBuilder("")
	s := &ReviewService{
		meter:         meter,
		provider:      provider,
		prompts:       prompts,
		maxCodeLength: DefaultMaxCodeLength,
		now:           time.Now,
		metrics:       metrics.Nop{},
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Review runs one code review for req.UserID.
//
// Order matters: input is validated before the quota is touched, and the
// quota is checked before the provider is called, so a rejected caller
// never costs a provider call. An admitted slot stays consumed even if the
// provider then fails, and failed calls are not retried.
func (s *ReviewService) Review(ctx context.Context, req model.ReviewRequest) (*model.ReviewResult, error) {
	lang, err := s.validate(req)
	if err != nil {
		s.metrics.RecordReview(metrics.OutcomeInvalid)
		return nil, err
	}

	decision, err := s.meter.TryAdmit(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/review: %w", err)
	}
	if !decision.Admitted {
		s.metrics.RecordReview(metrics.OutcomeRateLimited)
		s.logger.Info("quota rejected",
			slog.String("userID", req.UserID),
			slog.Int("limit", decision.Limit),
			slog.Time("resetAt", decision.ResetAt),
		)
		msg := fmt.Sprintf("You have used all %d code reviews for this period. Try again after %s.",
			decision.Limit, decision.ResetAt.UTC().Format(time.RFC1123))
		return nil, apperror.RateLimited(msg).WithRetryAfter(decision.RetryAfter(s.now()))
	}

	prompt, err := s.prompts.Build(lang, req.Code)
	if err != nil {
		return nil, fmt.Errorf("service/review: %w", err)
	}

	start := time.Now()
	raw, err := s.provider.Complete(ctx, prompt)
	s.metrics.RecordProviderLatency(time.Since(start))
	if err != nil {
		s.metrics.RecordReview(metrics.OutcomeUpstream)
		s.logger.Warn("provider call failed",
			slog.String("userID", req.UserID),
			slog.String("language", lang),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, apperror.ErrUpstream) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", apperror.Upstream("AI provider failed"), err)
	}

	result := &model.ReviewResult{
		Review:      raw,
		CompletedAt: s.now().UTC(),
	}
	if code, ok := review.ExtractImprovedCode(raw); ok {
		result.ImprovedCode = code
		result.HasImprovedCode = true
	}
	s.metrics.RecordExtraction(result.HasImprovedCode)
	s.metrics.RecordReview(metrics.OutcomeOK)

	s.logger.Info("review completed",
		slog.String("userID", req.UserID),
		slog.String("language", lang),
		slog.Int("remaining", decision.Remaining),
		slog.Bool("improvedCode", result.HasImprovedCode),
	)
	return result, nil
}

// FixCode extracts the improved code from a critique the client already
// holds. It needs a signed-in user but does not consume quota. found is
// false when the critique has no improved-code block.
func (s *ReviewService) FixCode(_ context.Context, userID, reviewText string) (code string, found bool, err error) {
	if userID == "" {
		return "", false, apperror.Unauthorized("valid authentication required")
	}
	if len(reviewText) > maxReviewTextLength {
		return "", false, apperror.ValidationFailed("review", "review text is too long")
	}

	code, found = review.ExtractImprovedCode(reviewText)
	s.metrics.RecordExtraction(found)
	return code, found, nil
}

// Quota reports userID's remaining reviews without consuming one.
func (s *ReviewService) Quota(ctx context.Context, userID string) (quota.Decision, error) {
	d, err := s.meter.Status(ctx, userID)
	if err != nil {
		return quota.Decision{}, fmt.Errorf("service/review: %w", err)
	}
	return d, nil
}

func (s *ReviewService) validate(req model.ReviewRequest) (string, error) {
	if strings.TrimSpace(req.Code) == "" {
		return "", apperror.ValidationFailed("code", "code is required")
	}
	if len(req.Code) > s.maxCodeLength {
		return "", apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d bytes or fewer", s.maxCodeLength))
	}
	lang, ok := model.NormalizeLanguage(req.Language)
	if !ok {
		return "", apperror.ValidationFailed("language", fmt.Sprintf("unsupported language %q", req.Language))
	}
	return lang, nil
}
