package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/code-reviewer/internal/auth"
	"github.com/sakif/code-reviewer/internal/model"
	"github.com/sakif/code-reviewer/internal/quota"
)

// Reviewer is the part of service.ReviewService the handlers use.
type Reviewer interface {
	Review(ctx context.Context, req model.ReviewRequest) (*model.ReviewResult, error)
	FixCode(ctx context.Context, userID, reviewText string) (code string, found bool, err error)
	Quota(ctx context.Context, userID string) (quota.Decision, error)
}

// ReviewHandler serves the AI review endpoints. Every route sits behind
// RequireAuth.
type ReviewHandler struct {
	svc    Reviewer
	logger *slog.Logger
}

// NewReviewHandler creates a ReviewHandler.
func NewReviewHandler(svc Reviewer, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{svc: svc, logger: logger}
}

type reviewRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type fixCodeRequest struct {
	Review string `json:"review"`
}

type fixCodeResponse struct {
	Found        bool   `json:"found"`
	ImprovedCode string `json:"improvedCode"`
}

type quotaResponse struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// HandleReview runs one quota-metered code review.
//
// HTTP: POST /ai/codeReview
// Request body: {"code": "...", "language": "python"}
// Response: {"review": "...", "improvedCode": "...", "hasImprovedCode": true, "completedAt": "..."}
// 429 with {"type": "RATE_LIMIT"} once the caller's quota is used up.
func (h *ReviewHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	res, err := h.svc.Review(r.Context(), model.ReviewRequest{
		Code:     req.Code,
		Language: req.Language,
		UserID:   userID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// HandleFixCode pulls the improved snippet out of a critique. It never
// consumes quota; a critique without one yields found=false, not an error.
//
// HTTP: POST /ai/fixCode
// Request body: {"review": "..."}
func (h *ReviewHandler) HandleFixCode(w http.ResponseWriter, r *http.Request) {
	var req fixCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	code, found, err := h.svc.FixCode(r.Context(), userID, req.Review)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, fixCodeResponse{Found: found, ImprovedCode: code})
}

// HandleQuota reports the caller's remaining reviews.
//
// HTTP: GET /ai/quota
func (h *ReviewHandler) HandleQuota(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	d, err := h.svc.Quota(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quotaResponse{
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt.UTC(),
	})
}
