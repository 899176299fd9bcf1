// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/pricewatch/internal/config"
	"github.com/hitoshi/pricewatch/internal/connect"
	"github.com/hitoshi/pricewatch/internal/connector"
	"github.com/hitoshi/pricewatch/internal/database"
	"github.com/hitoshi/pricewatch/internal/extractor"
	"github.com/hitoshi/pricewatch/internal/handler"
	"github.com/hitoshi/pricewatch/internal/link"
	"github.com/hitoshi/pricewatch/internal/logger"
	"github.com/hitoshi/pricewatch/internal/metrics"
	"github.com/hitoshi/pricewatch/internal/middleware"
	"github.com/hitoshi/pricewatch/internal/reconcile"
	"github.com/hitoshi/pricewatch/internal/repository"
	"github.com/hitoshi/pricewatch/internal/security"
	"github.com/hitoshi/pricewatch/internal/token"
	"github.com/hitoshi/pricewatch/internal/worker/cleanup"
	"github.com/hitoshi/pricewatch/internal/worker/syncer"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// buildRegistry は設定からプラットフォームコネクタのレジストリを構築する。
func buildRegistry(cfg *config.Config) *connector.Registry {
	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	return connector.NewRegistry(
		connector.NewShopifyConnector(connector.ShopifyConfig{
			ClientID:     cfg.ShopifyClientID,
			ClientSecret: cfg.ShopifyClientSecret,
			RedirectURL:  cfg.ShopifyRedirectURL,
		}, httpClient, slog.Default()),
		connector.NewWooCommerceConnector(connector.WooCommerceConfig{}, httpClient, slog.Default()),
	)
}

// buildOrchestrator は同期オーケストレータと依存部品を構築する。
func buildOrchestrator(cfg *config.Config, db *sql.DB, registry *connector.Registry, collector *metrics.Collector) (*syncer.Orchestrator, *reconcile.Writer) {
	storeRepo := repository.NewPostgresStoreRepo(db)
	linkRepo := repository.NewPostgresLinkRepo(db)
	obsRepo := repository.NewPostgresObservationRepo(db)

	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	tokenManager := token.NewManager(storeRepo, registry, cfg.TokenRefreshMargin, slog.Default(), collector)
	writer := reconcile.NewWriter(storeRepo, obsRepo, sanitizer, slog.Default())

	priceExtractor := extractor.NewExtractor(ssrfGuard, sanitizer, slog.Default(), extractor.Config{
		UserAgent:        cfg.ExtractUserAgent,
		Timeout:          cfg.FetchTimeout,
		MaxBodySize:      cfg.FetchMaxSize,
		FallbackCurrency: cfg.FallbackCurrency,
		Selectors:        cfg.ExtractSelectors,
	})

	orchestrator := syncer.NewOrchestrator(
		storeRepo, linkRepo, writer, registry, tokenManager, priceExtractor,
		slog.Default(), collector, syncer.Config{
			MaxConcurrent:    cfg.SyncMaxConcurrent,
			RetryMax:         cfg.SyncRetryMax,
			RetryBaseDelay:   cfg.SyncRetryBaseDelay,
			PageSize:         cfg.PlatformPageSize,
			FallbackCurrency: cfg.FallbackCurrency,
		})
	return orchestrator, writer
}

// serveMetrics はPrometheusスクレイプ用のエンドポイントを別ポートで提供する。
func serveMetrics(port string, gatherer prometheus.Gatherer) {
	addr := ":" + port
	slog.Info("metrics server starting", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, metrics.SetupMetricsRoute(gatherer)); err != nil {
		slog.Error("metrics server error", slog.String("error", err.Error()))
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// 3. リポジトリとオーケストレーションの構築
	storeRepo := repository.NewPostgresStoreRepo(db)
	linkRepo := repository.NewPostgresLinkRepo(db)
	obsRepo := repository.NewPostgresObservationRepo(db)
	stateRepo := repository.NewPostgresOAuthStateRepo(db)

	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	registry := buildRegistry(cfg)
	orchestrator, writer := buildOrchestrator(cfg, db, registry, collector)

	// 4. アプリケーションサービスの構築
	connectService := connect.NewService(
		registry, writer, storeRepo, stateRepo, cfg.OAuthStateTTL, slog.Default())
	linkService := link.NewService(
		linkRepo, storeRepo, obsRepo, ssrfGuard, sanitizer, slog.Default())

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfigFrom(cfg))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HTTPMetrics:       collector,
		Logger:            slog.Default(),

		ConnectService: connectService,
		StoreService:   connectService,
		StoreFinder:    storeRepo,

		SyncService: orchestrator,
		StoreSyncer: orchestrator,

		LinkService: linkService,
	})

	// 6. メトリクスエンドポイントの起動
	go serveMetrics(cfg.MetricsPort, promRegistry)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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
// DB接続を開き、定期同期スケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. メトリクスの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// 3. オーケストレータの構築
	orchestrator, _ := buildOrchestrator(cfg, db, buildRegistry(cfg), collector)
	scheduler := syncer.NewScheduler(orchestrator, slog.Default())

	// 4. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

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
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
	)

	// メトリクスエンドポイントをバックグラウンドで起動
	go serveMetrics(cfg.MetricsPort, promRegistry)

	// 実行サマリを破棄しないようイベントを消費する
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case run := <-orchestrator.Events():
				slog.Debug("sync run completed",
					slog.String("run_id", run.ID),
					slog.Int("total", run.Total()),
				)
			}
		}
	}()

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
		cleanupJob.Start(ctx, 24*time.Hour)
	}()

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
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

// rateLimiterConfigFrom は設定値（req/min単位）をレートリミッター設定に変換する。
func rateLimiterConfigFrom(cfg *config.Config) middleware.RateLimiterConfig {
	limiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		limiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		limiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitSync > 0 {
		limiterCfg.SyncRate = rate.Limit(float64(cfg.RateLimitSync) / 60.0)
		limiterCfg.SyncBurst = cfg.RateLimitSync
	}
	return limiterCfg
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
