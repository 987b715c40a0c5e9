package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/memberportal/internal/login"
	"github.com/hitoshi/memberportal/internal/model"
	"github.com/hitoshi/memberportal/internal/validation"
)

// LoginServiceInterface はtrackLoginが必要とするサービスインターフェース。
// login.Recorder が満たす。
type LoginServiceInterface interface {
	Record(ctx context.Context, req login.Request, h http.Header) (*model.LoginEvent, error)
}

// ActivityServiceInterface はtrackActivityが必要とするサービスインターフェース。
// activity.Service が満たす。
type ActivityServiceInterface interface {
	Touch(ctx context.Context, userID, email string, at time.Time) error
}

// TrackingHandler はログイン記録とアクティビティ記録のHTTPハンドラー。
type TrackingHandler struct {
	logins     LoginServiceInterface
	activities ActivityServiceInterface
}

// NewTrackingHandler はTrackingHandlerを生成する。
func NewTrackingHandler(logins LoginServiceInterface, activities ActivityServiceInterface) *TrackingHandler {
	return &TrackingHandler{
		logins:     logins,
		activities: activities,
	}
}

// trackLoginResponse はtrackLoginの成功レスポンス。
type trackLoginResponse struct {
	Success   bool   `json:"success"`
	ID        string `json:"id"`
	IPAddress string `json:"ip_address"`
}

// trackActivityRequest はtrackActivityのリクエストボディ。
type trackActivityRequest struct {
	UserID       string     `json:"user_id" validate:"required"`
	Email        string     `json:"email" validate:"required"`
	ActivityTime *time.Time `json:"activity_time,omitempty"`
}

// successResponse は本文を持たない成功レスポンス。
type successResponse struct {
	Success bool `json:"success"`
}

// TrackLogin はログインイベントを記録する。
// POST /api/trackLogin
func (h *TrackingHandler) TrackLogin(w http.ResponseWriter, r *http.Request) {
	var req login.Request
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	userID, email, err := resolveCaller(r, strings.TrimSpace(req.UserID), strings.TrimSpace(req.Email))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	req.UserID, req.Email = userID, email

	event, err := h.logins.Record(r.Context(), req, r.Header)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trackLoginResponse{
		Success:   true,
		ID:        event.ID,
		IPAddress: event.IPAddress,
	})
}

// TrackActivity は最終アクティビティ日時を更新する。
// POST /api/trackActivity
func (h *TrackingHandler) TrackActivity(w http.ResponseWriter, r *http.Request) {
	var req trackActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	userID, email, err := resolveCaller(r, strings.TrimSpace(req.UserID), strings.TrimSpace(req.Email))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	req.UserID, req.Email = userID, email

	if err := validation.Struct(req); err != nil {
		handleServiceError(w, err)
		return
	}

	var at time.Time
	if req.ActivityTime != nil {
		at = *req.ActivityTime
	}

	if err := h.activities.Touch(r.Context(), req.UserID, req.Email, at); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
