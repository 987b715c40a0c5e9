package admission

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/memberportal/internal/login"
	"github.com/hitoshi/memberportal/internal/model"
)

// Deps はControllerが使う外部機能。Enricherはnilでもよい。
type Deps struct {
	Sessions   SessionStore
	Identity   IdentityProvider
	Directory  UserDirectory
	Recorder   LoginRecorder
	Disclaimer DisclaimerGate
	Heartbeat  ActivityHeartbeat
	Navigator  Navigator
	Enricher   Enricher
}

// Option はControllerの任意設定。
type Option func(*Controller)

// WithPublicRoutes はセッション確認を省略するページを設定する。
func WithPublicRoutes(routes ...string) Option {
	return func(c *Controller) {
		c.publicRoutes = make(map[string]struct{}, len(routes))
		for _, r := range routes {
			c.publicRoutes[r] = struct{}{}
		}
	}
}

// WithStrictIdentityRoleLookup はIdPセッションでのロール取得失敗を
// パスワードセッションと同様に未認証として扱う。
// 既定ではIdPセッションの取得失敗はロール不明のまま続行する。
func WithStrictIdentityRoleLookup(strict bool) Option {
	return func(c *Controller) {
		c.strictIdentityRoleLookup = strict
	}
}

// WithLandingView は免責事項に同意した後の遷移先を設定する。
func WithLandingView(view string) Option {
	return func(c *Controller) {
		c.landingView = view
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// Controller はセッションの入場判定を行う状態機械。
// Dispatchは直列化されており、複数のゴルーチンから呼び出せる。
type Controller struct {
	deps                     Deps
	publicRoutes             map[string]struct{}
	strictIdentityRoleLookup bool
	landingView              string
	logger                   *slog.Logger

	mu          sync.Mutex
	snap        Snapshot
	sessCtx     context.Context
	sessCancel  context.CancelFunc
	unsubscribe func()
	closed      bool

	wg sync.WaitGroup
}

// New はControllerを生成する。
func New(deps Deps, opts ...Option) *Controller {
	c := &Controller{
		deps:        deps,
		landingView: DefaultLandingView,
		logger:      slog.Default(),
		snap:        Snapshot{State: StateUnknown},
	}
	WithPublicRoutes(DefaultPublicRoutes...)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot は現在の状態を返す。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Dispatch はイベントを処理し、処理後の状態を返す。
func (c *Controller) Dispatch(ctx context.Context, ev Event) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.snap
	}

	switch e := ev.(type) {
	case Load:
		c.handleLoad(ctx, e.Route)
	case AuthStateChanged:
		c.handleAuthStateChanged(ctx, e)
	case DisclaimerScrolledToEnd:
		if c.snap.State == StateDisclaimerPending {
			c.snap.DisclaimerScrolled = true
		}
	case AcceptDisclaimer:
		c.handleAcceptDisclaimer(ctx)
	case DeclineDisclaimer:
		if c.snap.State == StateDisclaimerPending {
			c.teardown(ctx, true)
		}
	case SignOut:
		if c.isSignedIn() {
			c.teardown(ctx, true)
		}
	}
	return c.snap
}

// Wait は切り離して実行中のログイン記録とIdP通知の処理が終わるまで待つ。
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close はIdPの購読を解除し、実行中の非同期処理を中断して終了を待つ。
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.endSession()
	c.mu.Unlock()

	c.deps.Heartbeat.Stop()
	c.wg.Wait()
}

func (c *Controller) handleLoad(ctx context.Context, route string) {
	c.snap.Route = route

	if _, ok := c.publicRoutes[route]; ok {
		// サインイン中はセッションを保ったまま公開ページを表示する
		if c.isSignedIn() {
			return
		}
		c.snap = Snapshot{State: StateAdmitted, Route: route, LoginRecorded: c.snap.LoginRecorded}
		return
	}

	c.subscribe()
	c.snap.State = StateCheckingSession

	if email, ok := c.deps.Sessions.PasswordLogin(); ok && c.deps.Sessions.Token() != "" {
		c.checkPasswordSession(ctx, email)
		return
	}
	c.checkIdentitySession(ctx)
}

// checkPasswordSession はパスワードセッションのロールを確認する。
// ロールの取得に失敗した場合は未認証として扱う。
func (c *Controller) checkPasswordSession(ctx context.Context, email string) {
	user, err := c.deps.Directory.FindByEmail(ctx, email)
	if err != nil || user == nil {
		if err != nil {
			c.logger.Warn("role lookup failed for password session", slog.String("error", err.Error()))
		}
		c.toUnauthenticated(c.snap.Route)
		return
	}

	if user.Role.IsBlocked() {
		c.deps.Sessions.ClearPasswordLogin()
		c.deps.Sessions.ClearToken()
		c.block(user.Role, "")
		return
	}

	c.authenticate(ctx, VariantPassword, user.ID, user.Email, user.Role, c.deps.Sessions.Token(), model.LoginMethodPassword)
}

// checkIdentitySession はIdPセッションを確認する。
func (c *Controller) checkIdentitySession(ctx context.Context) {
	sess, err := c.deps.Identity.GetSession(ctx)
	if err != nil || sess == nil {
		if err != nil {
			c.logger.Warn("failed to get identity session", slog.String("error", err.Error()))
		}
		if c.deps.Sessions.Token() != "" {
			c.deps.Sessions.ClearToken()
		}
		c.toUnauthenticated(c.snap.Route)
		return
	}
	c.admitIdentitySession(ctx, sess)
}

// admitIdentitySession はIdPセッションのロールを確認してから認証済みへ進む。
func (c *Controller) admitIdentitySession(ctx context.Context, sess *Session) {
	role, ok := c.lookupIdentityRole(ctx, sess.Email)
	if !ok {
		c.toUnauthenticated(c.snap.Route)
		return
	}

	if role.IsBlocked() {
		if err := c.deps.Identity.SignOut(ctx); err != nil {
			c.logger.Warn("identity sign-out failed", slog.String("error", err.Error()))
		}
		c.deps.Sessions.ClearToken()
		c.block(role, c.snap.Route)
		return
	}

	c.authenticate(ctx, VariantIdentity, sess.UserID, sess.Email, role, sess.AccessToken, model.LoginMethodOTP)
}

// lookupIdentityRole はIdPセッションのロールを引く。
// 取得に失敗した場合、strictでなければロール不明のまま続行する。
func (c *Controller) lookupIdentityRole(ctx context.Context, email string) (model.Role, bool) {
	user, err := c.deps.Directory.FindByEmail(ctx, email)
	if err == nil && user != nil {
		return user.Role, true
	}

	attrs := []any{slog.String("email", email), slog.Bool("strict", c.strictIdentityRoleLookup)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	c.logger.Warn("role lookup failed for identity session", attrs...)

	if c.strictIdentityRoleLookup {
		return model.RoleUnknown, false
	}
	return model.RoleUnknown, true
}

// authenticate は認証済みへ遷移し、ログイン記録を切り離して開始した後、免責事項を確認する。
func (c *Controller) authenticate(ctx context.Context, variant Variant, userID, email string, role model.Role, token string, method model.LoginMethod) {
	c.snap.State = StateAuthenticated
	c.snap.Variant = variant
	c.snap.UserID = userID
	c.snap.Email = email
	c.snap.Role = role
	c.snap.DisclaimerScrolled = false

	if token != "" {
		c.deps.Sessions.SetToken(token)
	}
	c.beginSession()

	if !c.snap.LoginRecorded {
		c.snap.LoginRecorded = true
		c.recordLoginDetached(login.Request{
			UserID:      userID,
			Email:       email,
			LoginMethod: string(method),
		})
	}

	if c.deps.Disclaimer.NeedsDisclaimer(ctx, userID, email) {
		c.snap.State = StateDisclaimerPending
		return
	}
	c.admit()
}

func (c *Controller) admit() {
	c.snap.State = StateAdmitted
	c.logger.Info("session admitted",
		slog.String("user_id", c.snap.UserID),
		slog.String("variant", string(c.snap.Variant)),
		slog.String("role", string(c.snap.Role)),
	)
	c.deps.Heartbeat.Start(c.sessCtx, c.snap.UserID, c.snap.Email)
}

func (c *Controller) handleAcceptDisclaimer(ctx context.Context) {
	if c.snap.State != StateDisclaimerPending {
		return
	}
	if !c.snap.DisclaimerScrolled {
		c.logger.Debug("disclaimer accept ignored before scrolling to end")
		return
	}
	c.deps.Disclaimer.RecordAcceptance(ctx, c.snap.UserID, c.snap.Email)
	c.admit()
	c.deps.Navigator.Navigate(c.landingView)
}

func (c *Controller) handleAuthStateChanged(ctx context.Context, e AuthStateChanged) {
	switch e.Event {
	case AuthSignedOut:
		if c.isSignedIn() {
			c.teardown(ctx, false)
		}
	case AuthTokenRefreshed:
		if c.isSignedIn() && e.Session != nil && e.Session.AccessToken != "" {
			c.deps.Sessions.SetToken(e.Session.AccessToken)
		}
	case AuthSignedIn:
		if e.Session == nil {
			return
		}
		if c.isSignedIn() {
			// 既に入場済みでもロールは確認し直す
			role, ok := c.lookupIdentityRole(ctx, e.Session.Email)
			if !ok {
				return
			}
			if role.IsBlocked() {
				if err := c.deps.Identity.SignOut(ctx); err != nil {
					c.logger.Warn("identity sign-out failed", slog.String("error", err.Error()))
				}
				c.deps.Sessions.ClearToken()
				c.block(role, c.snap.Route)
				return
			}
			if e.Session.AccessToken != "" {
				c.deps.Sessions.SetToken(e.Session.AccessToken)
			}
			return
		}
		// 入場拒否後の別アカウントでのサインインもロール確認からやり直す
		c.admitIdentitySession(ctx, e.Session)
	}
}

func (c *Controller) isSignedIn() bool {
	switch c.snap.State {
	case StateAuthenticated, StateDisclaimerPending, StateAdmitted:
		return c.snap.Variant != VariantNone
	default:
		return false
	}
}

// teardown はセッション種別に応じてサインアウトし、ログイン画面へ戻す。
// callIdentityがfalseの場合はIdPへのサインアウト要求を送らない（IdP側で既にサインアウト済み）。
func (c *Controller) teardown(ctx context.Context, callIdentity bool) {
	c.deps.Heartbeat.Stop()
	c.endSession()

	switch c.snap.Variant {
	case VariantPassword:
		c.deps.Sessions.ClearPasswordLogin()
	case VariantIdentity:
		if callIdentity {
			if err := c.deps.Identity.SignOut(ctx); err != nil {
				c.logger.Warn("identity sign-out failed", slog.String("error", err.Error()))
			}
		}
	}
	c.deps.Sessions.ClearToken()

	c.logger.Info("session signed out", slog.String("user_id", c.snap.UserID))
	c.snap = Snapshot{State: StateUnauthenticated, Route: c.snap.Route}
	c.deps.Navigator.RedirectToLogin("")
}

func (c *Controller) block(role model.Role, returnTo string) {
	c.deps.Heartbeat.Stop()
	c.endSession()
	c.deps.Sessions.SetBlockedRole(role)
	c.logger.Info("admission blocked", slog.String("role", string(role)))
	c.snap = Snapshot{State: StateBlocked, Route: c.snap.Route, Role: role}
	c.deps.Navigator.RedirectToLogin(returnTo)
}

func (c *Controller) toUnauthenticated(returnTo string) {
	c.deps.Heartbeat.Stop()
	c.endSession()
	c.snap = Snapshot{State: StateUnauthenticated, Route: c.snap.Route}
	c.deps.Navigator.RedirectToLogin(returnTo)
}

// subscribe はIdPの認証状態変化の購読を1回だけ登録する。
// コールバックはIdP側の呼び出し（SignOut内など）から同期的に呼ばれてもよいよう、
// 別ゴルーチンでDispatchする。
func (c *Controller) subscribe() {
	if c.unsubscribe != nil || c.deps.Identity == nil {
		return
	}
	c.unsubscribe = c.deps.Identity.OnAuthStateChange(func(event AuthEvent, session *Session) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.Dispatch(context.Background(), AuthStateChanged{Event: event, Session: session})
		}()
	})
}

func (c *Controller) beginSession() {
	if c.sessCtx != nil {
		return
	}
	c.sessCtx, c.sessCancel = context.WithCancel(context.Background())
}

// endSession は切り離したログイン記録とハートビートのコンテキストを取り消す。
func (c *Controller) endSession() {
	if c.sessCancel != nil {
		c.sessCancel()
	}
	c.sessCtx, c.sessCancel = nil, nil
}

// recordLoginDetached はログイン記録を別ゴルーチンで実行する。入場判定はこの完了を待たない。
// 失敗はログに残すだけで、サインアウト等でセッションが終わった場合は黙って中断する。
func (c *Controller) recordLoginDetached(req login.Request) {
	ctx := c.sessCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if c.deps.Enricher != nil {
			c.deps.Enricher.Enrich(ctx).Apply(&req)
		}
		if err := c.deps.Recorder.RecordLogin(ctx, req); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to record login",
				slog.String("user_id", req.UserID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
