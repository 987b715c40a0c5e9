// Package disclaimer は免責事項への同意状況の判定と記録を提供する。
package disclaimer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/memberportal/internal/model"
)

// DefaultWindow は同意の有効期間。これを超えると再同意が必要になる。
const DefaultWindow = 90 * 24 * time.Hour

// UserStore は同意状況の参照・更新に使うユーザーリポジトリのインターフェース。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateDisclaimerAcceptedAt(ctx context.Context, id string, at time.Time) error
}

// Metrics は判定結果のメトリクスを記録するインターフェース。
type Metrics interface {
	RecordDisclaimerCheck(required bool)
}

// Status はdisclaimerAcceptanceのGETレスポンス。
type Status struct {
	NeedsDisclaimer bool       `json:"needsDisclaimer"`
	LastAcceptedAt  *time.Time `json:"lastAcceptedAt"`
}

// Checker は同意状況の判定と記録のインターフェース。
// Service（同一プロセス）とportalclient.Client（HTTP経由）が実装する。
type Checker interface {
	Status(ctx context.Context, userID, email string) (*Status, error)
	Accept(ctx context.Context, userID, email string) (time.Time, error)
}

// Required は同意日時とwindowから再同意が必要かどうかを判定する。
// 未同意、または経過時間がwindowを超えた場合に必要とする。ちょうどwindowの場合は不要。
func Required(acceptedAt *time.Time, now time.Time, window time.Duration) bool {
	if acceptedAt == nil {
		return true
	}
	return now.Sub(*acceptedAt) > window
}

// Service はdisclaimerAcceptanceのサービス層。
type Service struct {
	users   UserStore
	window  time.Duration
	metrics Metrics
	now     func() time.Time
}

// NewService はServiceを生成する。windowが0以下の場合はDefaultWindowを使う。
func NewService(users UserStore, window time.Duration, metrics Metrics) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		users:   users,
		window:  window,
		metrics: metrics,
		now:     time.Now,
	}
}

// Status はユーザーの同意状況を返す。
// userIDとemailのどちらか一方で検索でき、両方空の場合はMISSING_REQUIRED_FIELDS、
// ユーザーが存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) Status(ctx context.Context, userID, email string) (*Status, error) {
	user, err := s.findUser(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	required := Required(user.DisclaimerAcceptedAt, s.now(), s.window)
	if s.metrics != nil {
		s.metrics.RecordDisclaimerCheck(required)
	}

	return &Status{
		NeedsDisclaimer: required,
		LastAcceptedAt:  user.DisclaimerAcceptedAt,
	}, nil
}

// Accept は同意日時を現在時刻で記録し、その日時を返す。
func (s *Service) Accept(ctx context.Context, userID, email string) (time.Time, error) {
	user, err := s.findUser(ctx, userID, email)
	if err != nil {
		return time.Time{}, err
	}

	at := s.now().UTC()
	if err := s.users.UpdateDisclaimerAcceptedAt(ctx, user.ID, at); err != nil {
		return time.Time{}, fmt.Errorf("failed to record disclaimer acceptance: %w", err)
	}
	return at, nil
}

// findUser はIDを優先し、見つからなければメールアドレスでユーザーを検索する。
func (s *Service) findUser(ctx context.Context, userID, email string) (*model.User, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)
	if userID == "" && email == "" {
		return nil, model.NewMissingFieldsError("userId", "email")
	}

	var user *model.User
	var err error
	if userID != "" {
		user, err = s.users.FindByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by id: %w", err)
		}
	}
	if user == nil && email != "" {
		user, err = s.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
