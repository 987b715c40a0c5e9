// Package cleanup はログイン履歴の保持期間管理ジョブを提供する。
// 保持期間（デフォルト365日）を超過したuser_loginsの行を日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays はログイン履歴のデフォルト保持日数。
const DefaultRetentionDays = 365

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// RetentionJob は保持期間を超過したログイン履歴の削除ジョブ。
// 冪等であり、削除対象がなくてもエラーにならない。
type RetentionJob struct {
	db            Executor
	logger        *slog.Logger
	retentionDays int
}

// NewRetentionJob は新しいRetentionJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使う。
func NewRetentionJob(db Executor, logger *slog.Logger, retentionDays int) *RetentionJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &RetentionJob{
		db:            db,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

// RetentionDays は保持日数を返す。
func (j *RetentionJob) RetentionDays() int {
	return j.retentionDays
}

// Run はlogin_timeが保持期間より古いログイン履歴を削除する。
func (j *RetentionJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.retentionDays)

	query := `DELETE FROM user_logins WHERE login_time < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("login retention job failed",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.retentionDays),
		)
		return fmt.Errorf("failed to delete expired login events: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read deleted row count",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to read deleted row count: %w", err)
	}

	j.logger.Info("login retention job completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.retentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。実行エラーはログに記録して継続する。
func (j *RetentionJob) Start(ctx context.Context, interval time.Duration) {
	// Run内でログ済み
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
