package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/hitoshi/memberportal/internal/model"
	"github.com/hitoshi/memberportal/internal/provisioning"
)

// webhookSecretHeader はプロビジョニングWebhookの共有シークレットを運ぶヘッダー。
const webhookSecretHeader = "X-Webhook-Secret"

// ProvisionServiceInterface はプロビジョニングが必要とするサービスインターフェース。
// provisioning.Service が満たす。
type ProvisionServiceInterface interface {
	Provision(ctx context.Context, req provisioning.Request) (*provisioning.Result, error)
}

// ProvisionHandler はユーザープロビジョニングWebhookのHTTPハンドラー。
type ProvisionHandler struct {
	service ProvisionServiceInterface
	secret  string
}

// NewProvisionHandler はProvisionHandlerを生成する。
// secretが空の場合はシークレットの検証を行わない。
func NewProvisionHandler(service ProvisionServiceInterface, secret string) *ProvisionHandler {
	return &ProvisionHandler{
		service: service,
		secret:  secret,
	}
}

type provisionResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	Created bool   `json:"created"`
}

// Provision は認証済みユーザーをポータルのusersテーブルに登録またはリンクする。
// POST /api/provision
func (h *ProvisionHandler) Provision(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			slog.Warn("provision webhook secret mismatch", slog.String("path", r.URL.Path))
			writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
	}

	var req provisioning.Request
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.Provision(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, provisionResponse{
		Success: true,
		UserID:  result.User.ID,
		Email:   result.User.Email,
		Role:    string(result.User.Role),
		Created: result.Created,
	})
}
