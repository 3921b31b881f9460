package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-reviewer/internal/apperror"
	"github.com/sakif/code-reviewer/internal/auth"
	"github.com/sakif/code-reviewer/internal/handler"
	"github.com/sakif/code-reviewer/internal/model"
	"github.com/sakif/code-reviewer/internal/quota"
)

// MockReviewer implements handler.Reviewer without a provider or quota store.
type MockReviewer struct {
	CapturedReq model.ReviewRequest
	ReturnRes   *model.ReviewResult
	ReturnErr   error

	FixUserID string
	FixText   string

	Decision quota.Decision
}

func (m *MockReviewer) Review(_ context.Context, req model.ReviewRequest) (*model.ReviewResult, error) {
	m.CapturedReq = req
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnRes, nil
}

func (m *MockReviewer) FixCode(_ context.Context, userID, reviewText string) (string, bool, error) {
	m.FixUserID = userID
	m.FixText = reviewText
	if m.ReturnErr != nil {
		return "", false, m.ReturnErr
	}
	if reviewText == "" {
		return "", false, nil
	}
	return "print('fixed')", true, nil
}

func (m *MockReviewer) Quota(context.Context, string) (quota.Decision, error) {
	return m.Decision, m.ReturnErr
}

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(auth.WithUserID(req.Context(), "u1"))
}

func TestReviewHandler_HandleReview(t *testing.T) {
	logger := testLogger()

	t.Run("valid review", func(t *testing.T) {
		done := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
		mock := &MockReviewer{ReturnRes: &model.ReviewResult{
			Review:          "## ✨ Improved Code\n```python\nprint(1)\n```",
			ImprovedCode:    "print(1)",
			HasImprovedCode: true,
			CompletedAt:     done,
		}}
		h := handler.NewReviewHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleReview(rr, authedRequest(http.MethodPost, "/ai/codeReview", `{"code":"print(1)","language":"python"}`))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "u1", mock.CapturedReq.UserID)
		assert.Equal(t, "python", mock.CapturedReq.Language)

		var res model.ReviewResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, "print(1)", res.ImprovedCode)
		assert.True(t, res.CompletedAt.Equal(done))
	})

	t.Run("quota exhausted", func(t *testing.T) {
		mock := &MockReviewer{ReturnErr: apperror.RateLimited("You have used all 10 code reviews").
			WithRetryAfter(90*time.Second + 100*time.Millisecond)}
		h := handler.NewReviewHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleReview(rr, authedRequest(http.MethodPost, "/ai/codeReview", `{"code":"x","language":"go"}`))

		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, "91", rr.Header().Get("Retry-After"))

		var res handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, "RATE_LIMIT", res.Type)
		assert.Equal(t, "rate_limit_exceeded", res.Error)
	})

	t.Run("provider failure", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		mock := &MockReviewer{ReturnErr: fmt.Errorf("%w: %w", apperror.Upstream("AI provider is unreachable"), cause)}
		h := handler.NewReviewHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleReview(rr, authedRequest(http.MethodPost, "/ai/codeReview", `{"code":"x","language":"go"}`))

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		var res handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, "upstream_error", res.Error)
		assert.Equal(t, "AI provider is unreachable", res.Message)
		assert.NotContains(t, rr.Body.String(), "connection refused")
	})

	t.Run("unexpected error is hidden", func(t *testing.T) {
		mock := &MockReviewer{ReturnErr: errors.New("sql: database is closed")}
		h := handler.NewReviewHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleReview(rr, authedRequest(http.MethodPost, "/ai/codeReview", `{"code":"x","language":"go"}`))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "database")
	})

	t.Run("malformed body", func(t *testing.T) {
		mock := &MockReviewer{}
		h := handler.NewReviewHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleReview(rr, authedRequest(http.MethodPost, "/ai/codeReview", `not json`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, mock.CapturedReq.UserID, "service must not be called")
	})
}

func TestReviewHandler_HandleFixCode(t *testing.T) {
	logger := testLogger()

	t.Run("found", func(t *testing.T) {
		mock := &MockReviewer{}
		h := handler.NewReviewHandler(mock, logger)

		rr := httptest.NewRecorder()
		h.HandleFixCode(rr, authedRequest(http.MethodPost, "/ai/fixCode", `{"review":"## Improved Code\n..."}`))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "u1", mock.FixUserID)
		assert.JSONEq(t, `{"found":true,"improvedCode":"print('fixed')"}`, rr.Body.String())
	})

	t.Run("absent is not an error", func(t *testing.T) {
		h := handler.NewReviewHandler(&MockReviewer{}, logger)

		rr := httptest.NewRecorder()
		h.HandleFixCode(rr, authedRequest(http.MethodPost, "/ai/fixCode", `{"review":""}`))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"found":false,"improvedCode":""}`, rr.Body.String())
	})
}

func TestReviewHandler_HandleQuota(t *testing.T) {
	reset := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	mock := &MockReviewer{Decision: quota.Decision{Admitted: true, Remaining: 7, Limit: 10, ResetAt: reset}}
	h := handler.NewReviewHandler(mock, testLogger())

	rr := httptest.NewRecorder()
	h.HandleQuota(rr, authedRequest(http.MethodGet, "/ai/quota", ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"limit":10,"remaining":7,"resetAt":"2026-09-02T10:00:00Z"}`, rr.Body.String())
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHandleHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.HandleHealth(stubPinger{}, testLogger())(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	})

	t.Run("database down", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.HandleHealth(stubPinger{err: errors.New("closed")}, testLogger())(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}
