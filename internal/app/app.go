package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Djangliori/task-new-app/internal/authflow"
	"github.com/Djangliori/task-new-app/internal/config"
	"github.com/Djangliori/task-new-app/internal/database"
	"github.com/Djangliori/task-new-app/internal/handler"
	"github.com/Djangliori/task-new-app/internal/i18n"
	"github.com/Djangliori/task-new-app/internal/logger"
	"github.com/Djangliori/task-new-app/internal/metrics"
	"github.com/Djangliori/task-new-app/internal/middleware"
	"github.com/Djangliori/task-new-app/internal/repository"
	"github.com/Djangliori/task-new-app/internal/security"
	"github.com/Djangliori/task-new-app/internal/session"
	"github.com/Djangliori/task-new-app/internal/store"
	"github.com/Djangliori/task-new-app/internal/supabase"
	"github.com/Djangliori/task-new-app/internal/worker/cleanup"
)

const (
	// shutdownTimeout はグレースフルシャットダウンの待機時間。
	shutdownTimeout = 30 * time.Second
	// sweepInterval はアイドル状態のストアを破棄する間隔。
	sweepInterval = time.Minute
	// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
	dbPingTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
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

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", cmd.String()),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// services はserveモードで組み立てた依存関係。
type services struct {
	handler     http.Handler
	registry    *store.Registry
	rateLimiter *middleware.RateLimiter
}

// close はバックグラウンドで動作するコンポーネントを停止する。
func (s *services) close() {
	s.rateLimiter.Stop()
}

// buildServices は設定とDB接続から全依存関係をワイヤリングする。
func buildServices(cfg *config.Config, db *sql.DB) (*services, error) {
	loc, err := time.LoadLocation(cfg.AppTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", cfg.AppTimezone, err)
	}
	defaultLang, ok := i18n.Parse(cfg.DefaultLanguage)
	if !ok {
		slog.Warn("unsupported DEFAULT_LANGUAGE, falling back to Georgian",
			slog.String("value", cfg.DefaultLanguage),
		)
		defaultLang = i18n.Georgian
	}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. リモートバックエンド
	httpClient := &http.Client{Timeout: cfg.BackendTimeout}
	client := supabase.NewClient(supabase.Config{
		BaseURL:    cfg.SupabaseURL,
		APIKey:     cfg.SupabaseAnonKey,
		JWTSecret:  cfg.SupabaseJWTSecret,
		HTTPClient: httpClient,
		Logger:     slog.Default(),
		Observer:   collector,
	})
	admin := supabase.NewAdminClient(supabase.Config{
		BaseURL:    cfg.SupabaseURL,
		APIKey:     cfg.SupabaseServiceRoleKey,
		JWTSecret:  cfg.SupabaseJWTSecret,
		HTTPClient: httpClient,
		Logger:     slog.Default(),
		Observer:   collector,
	})

	// 3. リポジトリ・ドメインサービス
	sanitizer := security.NewNameSanitizer()
	sessionRepo := repository.NewPostgresSessionRepo(db)
	registry := store.NewRegistry(client, sanitizer, collector)

	sessions := session.NewManager(sessionRepo, client, client, admin, sanitizer, collector, registry, session.Config{
		BaseURL:            cfg.BaseURL,
		SessionMaxAge:      time.Duration(cfg.SessionMaxAge) * time.Second,
		SessionShortMaxAge: time.Duration(cfg.SessionShortMaxAge) * time.Second,
	})
	flows := authflow.NewService(sessions, authflow.NewGuard(), collector, authflow.Config{
		ResetRedirectDelay:   cfg.ResetRedirectDelay,
		ConfirmRedirectDelay: cfg.ConfirmRedirectDelay,
	})

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))

	deps := &handler.RouterDeps{
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
		Logger:         slog.Default(),

		SessionResolver:   sessions,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Cookie: middleware.CookieOptions{
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
		},
		HSTS: cfg.CookieSecure,

		AuthFlows: flows,
		Sessions:  sessions,
		Stores:    handler.NewRegistryAdapter(registry),

		DefaultLanguage: defaultLang,
		Location:        loc,
	}

	return &services{
		handler:     handler.NewRouter(deps),
		registry:    registry,
		rateLimiter: rateLimiter,
	}, nil
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

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	svc, err := buildServices(cfg, db)
	if err != nil {
		return err
	}
	defer svc.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. アイドル状態のストアを定期的に破棄する
	go svc.registry.StartSweeper(ctx, sweepInterval, cfg.StoreIdleTTL)

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      svc.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second + cfg.BackendTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := cleanup.NewSessionCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default())

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// ブロッキング。シグナル受信で戻る
	job.RunLoop(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrationsVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	u.RawQuery = ""
	return u.String()
}
