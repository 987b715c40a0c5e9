package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/memberportal/internal/model"
)

const userColumns = `id, email, role, last_login, last_activity, disclaimer_accepted_at, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = $1`,
		model.NormalizeEmail(email),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = model.NormalizeEmail(user.Email)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateLoginTimestamps はlast_loginとlast_activityを更新する。
func (r *PostgresUserRepo) UpdateLoginTimestamps(ctx context.Context, id, email string, at time.Time) (bool, error) {
	return r.updateByIDOrEmail(ctx,
		`UPDATE users SET last_login = $1, last_activity = $1, updated_at = now()`,
		id, email, at,
	)
}

// UpdateLastActivity はlast_activityを更新する。
func (r *PostgresUserRepo) UpdateLastActivity(ctx context.Context, id, email string, at time.Time) (bool, error) {
	return r.updateByIDOrEmail(ctx,
		`UPDATE users SET last_activity = $1, updated_at = now()`,
		id, email, at,
	)
}

// UpdateDisclaimerAcceptedAt はdisclaimer_accepted_atを更新する。
func (r *PostgresUserRepo) UpdateDisclaimerAcceptedAt(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET disclaimer_accepted_at = $1, updated_at = now() WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update disclaimer acceptance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// updateByIDOrEmail はIDで更新を試み、一致しなければメールアドレスで更新する。
// updateSQLは$1に時刻を受け取り、WHERE句を含まないこと。
func (r *PostgresUserRepo) updateByIDOrEmail(ctx context.Context, updateSQL, id, email string, at time.Time) (bool, error) {
	if id != "" {
		result, err := r.db.ExecContext(ctx, updateSQL+` WHERE id = $2`, at, id)
		if err != nil {
			return false, fmt.Errorf("failed to update user by ID: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n > 0 {
			return true, nil
		}
	}

	email = model.NormalizeEmail(email)
	if email == "" {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx, updateSQL+` WHERE lower(email) = $2`, at, email)
	if err != nil {
		return false, fmt.Errorf("failed to update user by email: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// scanUser は1行をmodel.Userに変換する。行が存在しない場合はnil, nilを返す。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var role string
	var lastLogin, lastActivity, acceptedAt sql.NullTime
	err := row.Scan(
		&user.ID, &user.Email, &role,
		&lastLogin, &lastActivity, &acceptedAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	user.LastLogin = nullTimePtr(lastLogin)
	user.LastActivity = nullTimePtr(lastActivity)
	user.DisclaimerAcceptedAt = nullTimePtr(acceptedAt)
	return user, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
