package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/memberportal/internal/activity"
	"github.com/hitoshi/memberportal/internal/config"
	"github.com/hitoshi/memberportal/internal/database"
	"github.com/hitoshi/memberportal/internal/disclaimer"
	"github.com/hitoshi/memberportal/internal/geo"
	"github.com/hitoshi/memberportal/internal/handler"
	"github.com/hitoshi/memberportal/internal/identity"
	"github.com/hitoshi/memberportal/internal/logger"
	"github.com/hitoshi/memberportal/internal/login"
	"github.com/hitoshi/memberportal/internal/metrics"
	"github.com/hitoshi/memberportal/internal/middleware"
	"github.com/hitoshi/memberportal/internal/model"
	"github.com/hitoshi/memberportal/internal/provisioning"
	"github.com/hitoshi/memberportal/internal/repository"
	"github.com/hitoshi/memberportal/internal/security"
	"github.com/hitoshi/memberportal/internal/worker/cleanup"
)

// retentionInterval はログイン履歴の保持期間ジョブの実行間隔。
const retentionInterval = 24 * time.Hour

const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// .envファイルがあれば読み込み、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envファイルの読み込み（存在しない場合は無視する）
	loadDotEnv()

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. ログレベルを設定値で再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.String("error", err.Error()))
	}
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	// session はクライアント側で動くためDATABASE_URLを必要としない
	if cmd == CommandSession {
		logger.SetupDefault(w)
		loadDotEnv()
		scfg, err := config.LoadSession()
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		logger.SetupDefault(w, scfg.LogLevel)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runSession(ctx, scfg, nil)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandRetention:
		return runRetention(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	loginEventRepo := repository.NewPostgresLoginEventRepo(db)

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 4. 位置情報リゾルバ（SSRF防止クライアント + 任意のRedisキャッシュ）
	geoOpts := []geo.Option{
		geo.WithMetrics(collector),
		geo.WithLogger(slog.Default()),
	}
	if cfg.RedisURL != "" {
		cache, err := geo.NewRedisCacheFromURL(context.Background(), cfg.RedisURL)
		if err != nil {
			// キャッシュなしでも位置情報の解決は可能
			slog.Warn("geo cache disabled", slog.String("error", err.Error()))
		} else {
			defer cache.Close()
			geoOpts = append(geoOpts, geo.WithCache(cache, cfg.GeoCacheTTL))
			slog.Info("geo cache enabled", slog.Duration("ttl", cfg.GeoCacheTTL))
		}
	}
	ssrfGuard := security.NewSSRFGuard()
	providers, rejected := geo.FilterProviders(geo.ServerProviders(), ssrfGuard.ValidateURL)
	for _, err := range rejected {
		slog.Warn("geo provider disabled", slog.String("error", err.Error()))
	}
	resolver := geo.NewResolver(
		ssrfGuard.NewSafeClient(cfg.GeoLookupTimeout),
		providers,
		cfg.GeoLookupTimeout,
		geoOpts...,
	)

	// 5. ドメインサービスの初期化
	recorder := login.NewRecorder(loginEventRepo, userRepo, resolver,
		login.WithMetrics(collector),
	)
	activityService := activity.NewService(userRepo, collector)
	disclaimerService := disclaimer.NewService(userRepo, cfg.DisclaimerWindow, collector)
	provisionService := provisioning.NewService(userRepo, cfg.AllowedSignupDomains, model.Role(cfg.DefaultSignupRole))

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		StatusRecorder:    collector,

		HealthChecker:   db,
		MetricsGatherer: reg,

		LoginService:    recorder,
		ActivityService: activityService,

		DisclaimerService: disclaimerService,

		ProvisionService:       provisionService,
		ProvisionWebhookSecret: cfg.ProvisionWebhookSecret,
	}
	if cfg.SupabaseJWTSecret != "" {
		deps.TokenVerifier = identity.NewVerifier(cfg.SupabaseJWTSecret)
	} else {
		slog.Warn("SUPABASE_JWT_SECRET is not set; tracking endpoints accept unauthenticated requests")
	}
	if cfg.ProvisionWebhookSecret == "" {
		slog.Warn("PROVISION_WEBHOOK_SECRET is not set; provision endpoint is unprotected")
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、ログイン履歴の保持期間ジョブを日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. 保持期間ジョブの初期化
	retentionJob := cleanup.NewRetentionJob(db, slog.Default(), cfg.LoginRetentionDays)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("retention_days", retentionJob.RetentionDays()),
		slog.Duration("interval", retentionInterval),
	)

	// 起動直後に1回実行し、以降は日次で実行する（ブロッキング）
	retentionJob.Start(ctx, retentionInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("applied", status.Applied),
	)
	return nil
}

// runRetention は保持期間ジョブを1回だけ実行する。
func runRetention(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := cleanup.NewRetentionJob(db, slog.Default(), cfg.LoginRetentionDays)
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("retention job failed: %w", err)
	}
	return nil
}

// openDatabase は接続プールを開き、到達確認まで行う。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolOptions())
	if err != nil {
		return nil, err
	}

	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
