package model

import (
	"strings"
	"time"
)

// Role はポータル利用者のロールを表す。
type Role string

const (
	// RoleGuest はゲスト閲覧者。
	RoleGuest Role = "guest"
	// RoleMember は加盟団体のメンバー。
	RoleMember Role = "member"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
	// RoleModerator はモデレーター。
	RoleModerator Role = "moderator"
	// RoleNew は承認待ちの新規登録者。ポータルへの入場は拒否される。
	RoleNew Role = "new"
	// RoleDeclined は登録を却下された利用者。ポータルへの入場は拒否される。
	RoleDeclined Role = "declined"
	// RoleUnknown はロールを解決できなかったことを表す。
	RoleUnknown Role = ""
)

// IsBlocked はロールが入場拒否対象（new / declined）かどうかを返す。
func (r Role) IsBlocked() bool {
	return r == RoleNew || r == RoleDeclined
}

// IsValid はロールが定義済みの値かどうかを返す。
func (r Role) IsValid() bool {
	switch r {
	case RoleGuest, RoleMember, RoleAdmin, RoleModerator, RoleNew, RoleDeclined:
		return true
	default:
		return false
	}
}

// User はポータル利用者を表す。
// last_login / last_activity / disclaimer_accepted_at はそれぞれ独立して更新され、後勝ちとなる。
type User struct {
	ID                   string
	Email                string
	Role                 Role
	LastLogin            *time.Time
	LastActivity         *time.Time
	DisclaimerAcceptedAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NormalizeEmail はメールアドレスを比較用に正規化する（前後空白除去・小文字化）。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
