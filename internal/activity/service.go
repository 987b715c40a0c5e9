// Package activity はユーザーの最終アクティビティ日時の更新（サーバー側）と
// ハートビート送信（クライアント側）を提供する。
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/memberportal/internal/model"
)

// ActivityStore はlast_activityの更新インターフェース。
type ActivityStore interface {
	UpdateLastActivity(ctx context.Context, id, email string, at time.Time) (bool, error)
}

// Metrics はアクティビティ更新のメトリクスを記録するインターフェース。
type Metrics interface {
	RecordActivityUpdate(matched bool)
}

// Tracker は最終アクティビティ日時を記録するインターフェース。
// Service（同一プロセス）とportalclient.Client（HTTP経由）が実装する。
type Tracker interface {
	Touch(ctx context.Context, userID, email string, at time.Time) error
}

// Service はtrackActivityのサービス層。
type Service struct {
	store   ActivityStore
	metrics Metrics
	now     func() time.Time
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(store ActivityStore, metrics Metrics) *Service {
	return &Service{
		store:   store,
		metrics: metrics,
		now:     time.Now,
	}
}

// Touch はユーザーのlast_activityを更新する。
// IDで一致する行がなければメールアドレスで更新する。atがゼロ値の場合は現在時刻を使う。
func (s *Service) Touch(ctx context.Context, userID, email string, at time.Time) error {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)

	var missing []string
	if userID == "" {
		missing = append(missing, "user_id")
	}
	if email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return model.NewMissingFieldsError(missing...)
	}

	if at.IsZero() {
		at = s.now()
	}

	matched, err := s.store.UpdateLastActivity(ctx, userID, email, at)
	if err != nil {
		return fmt.Errorf("failed to update last_activity: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordActivityUpdate(matched)
	}
	if !matched {
		slog.Warn("no user matched for activity update",
			slog.String("user_id", userID),
		)
	}
	return nil
}
