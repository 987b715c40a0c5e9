package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/memberportal/internal/disclaimer"
)

// DisclaimerServiceInterface はdisclaimerAcceptanceが必要とするサービスインターフェース。
// disclaimer.Service が満たす。
type DisclaimerServiceInterface interface {
	Status(ctx context.Context, userID, email string) (*disclaimer.Status, error)
	Accept(ctx context.Context, userID, email string) (time.Time, error)
}

// DisclaimerHandler は免責事項の同意状況のHTTPハンドラー。
type DisclaimerHandler struct {
	service DisclaimerServiceInterface
}

// NewDisclaimerHandler はDisclaimerHandlerを生成する。
func NewDisclaimerHandler(service DisclaimerServiceInterface) *DisclaimerHandler {
	return &DisclaimerHandler{service: service}
}

// acceptDisclaimerRequest は同意記録のリクエストボディ。userIdとemailのいずれかが必要。
type acceptDisclaimerRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type acceptDisclaimerResponse struct {
	Success    bool      `json:"success"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// GetStatus は再同意が必要かどうかを返す。
// GET /api/disclaimerAcceptance?userId=...&email=...
func (h *DisclaimerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, email, err := resolveCaller(r, strings.TrimSpace(q.Get("userId")), strings.TrimSpace(q.Get("email")))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status, err := h.service.Status(r.Context(), userID, email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// Accept は免責事項への同意を記録する。
// POST /api/disclaimerAcceptance
func (h *DisclaimerHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptDisclaimerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	userID, email, err := resolveCaller(r, strings.TrimSpace(req.UserID), strings.TrimSpace(req.Email))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	acceptedAt, err := h.service.Accept(r.Context(), userID, email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, acceptDisclaimerResponse{
		Success:    true,
		AcceptedAt: acceptedAt,
	})
}
