// Package admission はセッションの入場判定を行う状態機械を提供する。
//
// 状態遷移は Controller.Dispatch に渡すイベントだけで進む。
// IdPの認証状態変化や画面操作もイベントとして同じ入口から流し込む。
package admission

import (
	"context"
	"time"

	"github.com/hitoshi/memberportal/internal/login"
	"github.com/hitoshi/memberportal/internal/model"
)

// State は入場判定の状態。
type State string

const (
	StateUnknown           State = "unknown"
	StateCheckingSession   State = "checking_session"
	StateAuthenticated     State = "authenticated"
	StateDisclaimerPending State = "disclaimer_pending"
	StateAdmitted          State = "admitted"
	StateBlocked           State = "blocked"
	StateUnauthenticated   State = "unauthenticated"
)

// Variant はセッションの種類。
type Variant string

const (
	VariantNone     Variant = ""
	VariantPassword Variant = "password"
	VariantIdentity Variant = "identity"
)

// AuthEvent はIdPから通知される認証状態の変化。
type AuthEvent string

const (
	AuthSignedIn       AuthEvent = "SIGNED_IN"
	AuthSignedOut      AuthEvent = "SIGNED_OUT"
	AuthTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// DefaultPublicRoutes はセッション確認なしで表示できるページ。
var DefaultPublicRoutes = []string{"newuser-form"}

// DefaultLandingView は免責事項に同意した後に表示する画面。
const DefaultLandingView = "settings"

// Session はIdPのセッション。
type Session struct {
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// SessionStore は端末ローカルのセッション情報を扱うインターフェース。
type SessionStore interface {
	Token() string
	SetToken(token string)
	ClearToken()
	// PasswordLogin はパスワードログインのフラグと記憶済みメールアドレスを返す。
	PasswordLogin() (email string, ok bool)
	ClearPasswordLogin()
	// SetBlockedRole はログイン画面で表示する入場拒否理由を保存する。
	SetBlockedRole(role model.Role)
}

// IdentityProvider はIdPのセッションAPI。
type IdentityProvider interface {
	GetSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange はコールバックを登録し、登録解除関数を返す。
	OnAuthStateChange(fn func(event AuthEvent, session *Session)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// UserDirectory はメールアドレスからユーザー（ロール）を引くインターフェース。
// repository.UserRepository がそのまま満たす。
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// LoginRecorder はログイン履歴の記録先。
type LoginRecorder interface {
	RecordLogin(ctx context.Context, req login.Request) error
}

// DisclaimerGate は免責事項の同意判定。disclaimer.Gate が満たす。
type DisclaimerGate interface {
	NeedsDisclaimer(ctx context.Context, userID, email string) bool
	RecordAcceptance(ctx context.Context, userID, email string) time.Time
}

// ActivityHeartbeat はアクティビティ送信。activity.Heartbeat が満たす。
type ActivityHeartbeat interface {
	Start(ctx context.Context, userID, email string)
	Stop()
}

// Navigator は画面遷移。
type Navigator interface {
	// RedirectToLogin はログイン画面へ遷移する。returnToが空でなければログイン後の戻り先とする。
	RedirectToLogin(returnTo string)
	Navigate(view string)
}

// Enricher はログイン履歴に付与するクライアント環境情報を集める。login.ClientEnricher が満たす。
type Enricher interface {
	Enrich(ctx context.Context) login.Enrichment
}

// Event はDispatchに渡すイベント。
type Event interface {
	event()
}

// Load はページの読み込み。
type Load struct {
	Route string
}

// AuthStateChanged はIdPの認証状態変化。
type AuthStateChanged struct {
	Event   AuthEvent
	Session *Session
}

// DisclaimerScrolledToEnd は免責事項が末尾までスクロールされたことを表す。
type DisclaimerScrolledToEnd struct{}

// AcceptDisclaimer は免責事項への同意。
type AcceptDisclaimer struct{}

// DeclineDisclaimer は免責事項の拒否。
type DeclineDisclaimer struct{}

// SignOut は利用者によるサインアウト。
type SignOut struct{}

func (Load) event()                    {}
func (AuthStateChanged) event()        {}
func (DisclaimerScrolledToEnd) event() {}
func (AcceptDisclaimer) event()        {}
func (DeclineDisclaimer) event()       {}
func (SignOut) event()                 {}

// Snapshot はある時点の入場判定の状態。
type Snapshot struct {
	State              State
	Variant            Variant
	Route              string
	UserID             string
	Email              string
	Role               model.Role
	LoginRecorded      bool
	DisclaimerScrolled bool
}

// HasUser はユーザーが紐づいているかどうかを返す。公開ページではfalse。
func (s Snapshot) HasUser() bool {
	return s.UserID != "" || s.Email != ""
}
