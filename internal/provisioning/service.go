// Package provisioning はIdPでのサインアップ時にポータルのユーザーを作成する。
package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/memberportal/internal/model"
	"github.com/hitoshi/memberportal/internal/validation"
)

// UserStore はユーザーの検索・作成インターフェース。
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
}

// Request はPOST /api/provision のリクエストボディ。
type Request struct {
	Email  string `json:"email" validate:"required,email"`
	UserID string `json:"user_id"`
}

// Result はプロビジョニングの結果。
type Result struct {
	User    *model.User
	Created bool
}

// Service はユーザープロビジョニングのサービス層。
type Service struct {
	users          UserStore
	allowedDomains map[string]struct{}
	defaultRole    model.Role
}

// NewService はServiceを生成する。
// allowedDomainsが空の場合は全てのドメインを許可する。defaultRoleが不正な値の場合はnewとする。
func NewService(users UserStore, allowedDomains []string, defaultRole model.Role) *Service {
	allowed := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			allowed[d] = struct{}{}
		}
	}
	if !defaultRole.IsValid() {
		defaultRole = model.RoleNew
	}
	return &Service{
		users:          users,
		allowedDomains: allowed,
		defaultRole:    defaultRole,
	}
}

// Provision はメールアドレスに対応するユーザーを返す。存在しなければ既定のロールで作成する。
// 許可されていないドメインの場合はEMAIL_DOMAIN_NOT_ALLOWEDを返す。
func (s *Service) Provision(ctx context.Context, req Request) (*Result, error) {
	req.Email = model.NormalizeEmail(req.Email)
	req.UserID = strings.TrimSpace(req.UserID)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	domain := req.Email[strings.LastIndex(req.Email, "@")+1:]
	if !s.domainAllowed(domain) {
		return nil, model.NewEmailDomainNotAllowedError(domain)
	}

	existing, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		slog.Info("existing user linked",
			slog.String("user_id", existing.ID),
			slog.String("auth_user_id", req.UserID),
		)
		return &Result{User: existing}, nil
	}

	user := &model.User{
		ID:    req.UserID,
		Email: req.Email,
		Role:  s.defaultRole,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user provisioned",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return &Result{User: user, Created: true}, nil
}

// domainAllowed はドメインそのもの、または登録可能ドメイン（eTLD+1）が許可リストにあるかを判定する。
func (s *Service) domainAllowed(domain string) bool {
	if len(s.allowedDomains) == 0 {
		return true
	}
	if _, ok := s.allowedDomains[domain]; ok {
		return true
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return false
	}
	_, ok := s.allowedDomains[registrable]
	return ok
}
