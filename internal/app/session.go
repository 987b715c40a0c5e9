package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/hitoshi/memberportal/internal/activity"
	"github.com/hitoshi/memberportal/internal/admission"
	"github.com/hitoshi/memberportal/internal/config"
	"github.com/hitoshi/memberportal/internal/device"
	"github.com/hitoshi/memberportal/internal/disclaimer"
	"github.com/hitoshi/memberportal/internal/geo"
	"github.com/hitoshi/memberportal/internal/identity"
	"github.com/hitoshi/memberportal/internal/login"
	"github.com/hitoshi/memberportal/internal/portalclient"
	"github.com/hitoshi/memberportal/internal/security"
)

const sessionUserAgent = "memberportal-session/1.0"

// errSessionNotAdmitted はセッションが入場に至らなかったことを表す。
var errSessionNotAdmitted = errors.New("session was not admitted")

// logNavigator は画面遷移をログに出すだけのNavigator。
type logNavigator struct {
	logger *slog.Logger
}

func (n logNavigator) RedirectToLogin(returnTo string) {
	n.logger.Info("redirect to login", slog.String("return_to", returnTo))
}

func (n logNavigator) Navigate(view string) {
	n.logger.Info("navigate", slog.String("view", view))
}

// runSession はデプロイ済みのバックエンドに対してクライアント側の入場判定を1回通す。
// サインイン→ページ読み込み→（必要なら免責事項に同意）→任意時間の滞在→サインアウトの順に進む。
func runSession(ctx context.Context, cfg *config.SessionConfig, httpClient *http.Client) error {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	log := slog.Default()

	idp := identity.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, httpClient)
	sess, err := idp.SignInWithPassword(ctx, cfg.Email, cfg.Password)
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}

	store := admission.NewMemoryStore()
	if cfg.Mode == "password" {
		store.SetPasswordLogin(sess.Email, sess.AccessToken)
	}

	portal := portalclient.New(cfg.PortalURL, httpClient, portalclient.WithTokenSource(store.Token))

	var resolver login.GeoResolver
	if cfg.GeoLookup {
		resolver = geo.NewResolver(
			security.NewSSRFGuard().NewSafeClient(geo.ClientTimeout),
			geo.ClientProviders(),
			geo.ClientTimeout,
			geo.WithLogger(log),
		)
	}
	enricher := login.NewClientEnricher(
		geo.NewIPDiscoverer(httpClient, cfg.IPDiscoveryURL, geo.DiscoveryTimeout),
		resolver,
		runtimeEnvironment,
	)

	heartbeat := activity.NewHeartbeat(portal, activity.WithHeartbeatLogger(log))
	ctrl := admission.New(admission.Deps{
		Sessions:   store,
		Identity:   idp,
		Directory:  idp,
		Recorder:   portal,
		Disclaimer: disclaimer.NewGate(portal, disclaimer.NewMemoryLocalStore(), cfg.DisclaimerWindow),
		Heartbeat:  heartbeat,
		Navigator:  logNavigator{logger: log},
		Enricher:   enricher,
	}, admission.WithLogger(log), admission.WithStrictIdentityRoleLookup(cfg.StrictRoleLookup))
	defer ctrl.Close()

	snap := ctrl.Dispatch(ctx, admission.Load{Route: cfg.Route})
	if snap.State == admission.StateDisclaimerPending && cfg.AcceptDisclaimer {
		ctrl.Dispatch(ctx, admission.DisclaimerScrolledToEnd{})
		snap = ctrl.Dispatch(ctx, admission.AcceptDisclaimer{})
	}

	if snap.State == admission.StateAdmitted && cfg.Hold > 0 {
		log.Info("holding session", slog.Duration("hold", cfg.Hold))
		timer := time.NewTimer(cfg.Hold)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	// ログイン記録の完了を待ってからサインアウトする
	ctrl.Wait()
	final := snap
	ctrl.Dispatch(context.WithoutCancel(ctx), admission.SignOut{})

	// パスワードモードのteardownはIdPに触れないため、サインインで得たIdPセッションをここで破棄する
	if cfg.Mode == "password" {
		if err := idp.SignOut(context.WithoutCancel(ctx)); err != nil {
			log.Warn("identity sign-out failed", slog.String("error", err.Error()))
		}
	}

	log.Info("session finished",
		slog.String("state", string(final.State)),
		slog.String("variant", string(final.Variant)),
		slog.String("user_id", final.UserID),
		slog.String("role", string(final.Role)),
		slog.Bool("login_recorded", final.LoginRecorded),
	)

	switch final.State {
	case admission.StateAdmitted, admission.StateDisclaimerPending:
		return nil
	default:
		return fmt.Errorf("%w: state %s", errSessionNotAdmitted, final.State)
	}
}

// runtimeEnvironment は実行中のプロセスからデバイス情報の収集元を組み立てる。
func runtimeEnvironment() device.Environment {
	online := true
	cpus := runtime.NumCPU()
	_, offset := time.Now().Zone()
	// ブラウザのgetTimezoneOffsetと同じく「UTC - ローカル」の分数
	tzOffset := -offset / 60

	env := device.Environment{
		UserAgent:           sessionUserAgent,
		Platform:            runtime.GOOS + "/" + runtime.GOARCH,
		PlatformHint:        runtime.GOOS,
		Timezone:            time.Local.String(),
		TimezoneOffset:      &tzOffset,
		Online:              &online,
		HardwareConcurrency: &cpus,
	}
	if lang := os.Getenv("LANG"); lang != "" {
		env.Language = lang
		env.Languages = []string{lang}
	}
	return env
}
