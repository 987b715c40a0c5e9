package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/memberportal/internal/metrics"
	"github.com/hitoshi/memberportal/internal/middleware"
)

// functionPrefixes はエンドポイントをマウントするパスプレフィックス。
// 既存フロントエンドの /.netlify/functions/* 呼び出しもそのまま受け付ける。
var functionPrefixes = []string{"/api", "/.netlify/functions"}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	// TokenVerifier がnilの場合、Bearer認証は行わない
	TokenVerifier  middleware.TokenVerifier
	StatusRecorder middleware.StatusRecorder

	// 運用
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer

	// ログイン・アクティビティ
	LoginService    LoginServiceInterface
	ActivityService ActivityServiceInterface

	// 免責事項
	DisclaimerService DisclaimerServiceInterface

	// プロビジョニング
	ProvisionService       ProvisionServiceInterface
	ProvisionWebhookSecret string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS → RateLimit(General) → BearerAuth
//
// /health と /metrics はレート制限と認証の外に配置する。
// provision はWebhookシークレットで保護するためBearer認証の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	trackingHandler := NewTrackingHandler(deps.LoginService, deps.ActivityService)
	disclaimerHandler := NewDisclaimerHandler(deps.DisclaimerService)
	provisionHandler := NewProvisionHandler(deps.ProvisionService, deps.ProvisionWebhookSecret)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 関数エンドポイント ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プロビジョニングWebhook（ログイン記録と同じ厳しめのレート制限）
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			for _, prefix := range functionPrefixes {
				r.Post(prefix+"/provision", provisionHandler.Provision)
			}
		})

		r.Group(func(r chi.Router) {
			if deps.TokenVerifier != nil {
				r.Use(middleware.NewBearerAuthMiddleware(deps.TokenVerifier))
			}

			for _, prefix := range functionPrefixes {
				r.With(deps.RateLimiter.LoginMiddleware()).Post(prefix+"/trackLogin", trackingHandler.TrackLogin)
				r.Post(prefix+"/trackActivity", trackingHandler.TrackActivity)
				r.Get(prefix+"/disclaimerAcceptance", disclaimerHandler.GetStatus)
				r.Post(prefix+"/disclaimerAcceptance", disclaimerHandler.Accept)
			}
		})
	})

	return r
}
