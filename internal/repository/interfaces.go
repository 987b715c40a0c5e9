// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/memberportal/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。IDが空の場合は採番する。
	Create(ctx context.Context, user *model.User) error

	// UpdateLoginTimestamps はlast_loginとlast_activityを同時に更新する。
	// IDで一致する行がなければメールアドレスで更新し、更新できたかどうかを返す。
	UpdateLoginTimestamps(ctx context.Context, id, email string, at time.Time) (bool, error)

	// UpdateLastActivity はlast_activityを更新する。
	// IDで一致する行がなければメールアドレスで更新し、更新できたかどうかを返す。
	UpdateLastActivity(ctx context.Context, id, email string, at time.Time) (bool, error)

	// UpdateDisclaimerAcceptedAt は指定IDのユーザーのdisclaimer_accepted_atを更新する。
	UpdateDisclaimerAcceptedAt(ctx context.Context, id string, at time.Time) error
}

// LoginEventRepository はログイン履歴（user_logins）の永続化インターフェース。
// 追記専用であり、更新操作は持たない。
type LoginEventRepository interface {
	// Create はログイン履歴を1件追加する。IDが空の場合は採番する。
	Create(ctx context.Context, event *model.LoginEvent) error

	// ListByUser は指定ユーザーのログイン履歴をlogin_time降順で取得する。
	ListByUser(ctx context.Context, userID string, limit int) ([]model.LoginEvent, error)
}
