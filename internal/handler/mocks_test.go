package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/memberportal/internal/disclaimer"
	"github.com/hitoshi/memberportal/internal/login"
	"github.com/hitoshi/memberportal/internal/middleware"
	"github.com/hitoshi/memberportal/internal/model"
	"github.com/hitoshi/memberportal/internal/provisioning"
)

// --- モック定義 ---

// mockLoginService はLoginServiceInterfaceのモック実装。
type mockLoginService struct {
	recordFn func(ctx context.Context, req login.Request, h http.Header) (*model.LoginEvent, error)
}

func (m *mockLoginService) Record(ctx context.Context, req login.Request, h http.Header) (*model.LoginEvent, error) {
	if m.recordFn != nil {
		return m.recordFn(ctx, req, h)
	}
	return &model.LoginEvent{ID: "login-1", UserID: req.UserID, Email: req.Email, IPAddress: model.Unknown}, nil
}

// mockActivityService はActivityServiceInterfaceのモック実装。
type mockActivityService struct {
	touchFn func(ctx context.Context, userID, email string, at time.Time) error
}

func (m *mockActivityService) Touch(ctx context.Context, userID, email string, at time.Time) error {
	if m.touchFn != nil {
		return m.touchFn(ctx, userID, email, at)
	}
	return nil
}

// mockDisclaimerService はDisclaimerServiceInterfaceのモック実装。
type mockDisclaimerService struct {
	statusFn func(ctx context.Context, userID, email string) (*disclaimer.Status, error)
	acceptFn func(ctx context.Context, userID, email string) (time.Time, error)
}

func (m *mockDisclaimerService) Status(ctx context.Context, userID, email string) (*disclaimer.Status, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, userID, email)
	}
	return &disclaimer.Status{NeedsDisclaimer: true}, nil
}

func (m *mockDisclaimerService) Accept(ctx context.Context, userID, email string) (time.Time, error) {
	if m.acceptFn != nil {
		return m.acceptFn(ctx, userID, email)
	}
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

// mockProvisionService はProvisionServiceInterfaceのモック実装。
type mockProvisionService struct {
	provisionFn func(ctx context.Context, req provisioning.Request) (*provisioning.Result, error)
}

func (m *mockProvisionService) Provision(ctx context.Context, req provisioning.Request) (*provisioning.Result, error) {
	if m.provisionFn != nil {
		return m.provisionFn(ctx, req)
	}
	return &provisioning.Result{
		User:    &model.User{ID: "user-1", Email: req.Email, Role: model.RoleNew},
		Created: true,
	}, nil
}

// withUserID はテスト用にリクエストコンテキストへ認証済みユーザーIDを注入する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}
