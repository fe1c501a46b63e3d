// Package app はサブコマンドの解析とアプリケーションの起動を担う。
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/bookvote/internal/auth"
	"github.com/hitoshi/bookvote/internal/broadcast"
	"github.com/hitoshi/bookvote/internal/candidate"
	"github.com/hitoshi/bookvote/internal/config"
	"github.com/hitoshi/bookvote/internal/database"
	"github.com/hitoshi/bookvote/internal/handler"
	"github.com/hitoshi/bookvote/internal/iteration"
	"github.com/hitoshi/bookvote/internal/logger"
	"github.com/hitoshi/bookvote/internal/metrics"
	"github.com/hitoshi/bookvote/internal/middleware"
	"github.com/hitoshi/bookvote/internal/repository"
	"github.com/hitoshi/bookvote/internal/security"
	"github.com/hitoshi/bookvote/internal/vote"
	"github.com/hitoshi/bookvote/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、環境変数からConfigを取得し、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ローカル開発用の.envを読み込む（存在しなければ何もしない）
	_ = godotenv.Load()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 3. 環境変数から設定を読み込む
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

// services はrunServeとrunWorkerで共有する依存関係の束。
type services struct {
	userRepo  repository.UserRepository
	iterRepo  repository.IterationRepository
	voteSvc   *vote.Service
	iterSvc   *iteration.Service
	candSvc   *candidate.Service
	authSvc   *auth.Service
	collector *metrics.Collector
	registry  *prometheus.Registry
}

// buildServices はDB接続の上に全ドメインサービスをワイヤリングする。
func buildServices(cfg *config.Config, db *sql.DB) *services {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	userRepo := repository.NewPostgresUserRepo(db)
	iterRepo := repository.NewPostgresIterationRepo(db)
	bookRepo := repository.NewPostgresBookRepo(db)
	candRepo := repository.NewPostgresCandidateRepo(db)
	voteRepo := repository.NewPostgresVoteRepo(db)

	sanitizer := security.NewTextSanitizer()
	urlGuard := security.NewURLGuard()

	issuer := auth.NewTokenIssuer(cfg.SessionSecret, cfg.SessionTTL, nil)
	authSvc := auth.NewService(userRepo, issuer, collector, auth.ServiceConfig{
		BotToken:   cfg.BotToken,
		AuthMaxAge: cfg.AuthMaxAge,
		SessionTTL: cfg.SessionTTL,
	}, nil)

	voteSvc := vote.NewService(iterRepo, candRepo, voteRepo, collector, nil)

	candSvc := candidate.NewService(
		iterRepo, bookRepo, candRepo, voteRepo, userRepo,
		sanitizer, urlGuard, collector, nil,
	)

	// 告知の送信先URLはBot APIだが、SSRF防止付きクライアントで送る。
	// 接続タイムアウトも告知タイムアウト設定に揃える。
	sender := broadcast.NewClient(
		urlGuard.NewSafeClient(cfg.BroadcastTimeout),
		slog.Default(),
		cfg.BotToken,
	)
	iterSvc := iteration.NewService(iterRepo, voteSvc, sender, collector, iteration.ServiceConfig{
		AnnounceChatID:   cfg.AnnounceChatID,
		BroadcastTimeout: cfg.BroadcastTimeout,
	}, nil)

	return &services{
		userRepo:  userRepo,
		iterRepo:  iterRepo,
		voteSvc:   voteSvc,
		iterSvc:   iterSvc,
		candSvc:   candSvc,
		authSvc:   authSvc,
		collector: collector,
		registry:  registry,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	svcs := buildServices(cfg, db)

	// レート制限のreq/min設定をreq/secに変換する
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rlCfg.GeneralBurst = cfg.RateLimitGeneral
	rlCfg.ProposalRate = rate.Limit(float64(cfg.RateLimitProposal) / 60.0)
	rlCfg.ProposalBurst = cfg.RateLimitProposal
	rateLimiter := middleware.NewRateLimiter(rlCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Verifier:          svcs.authSvc,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		AuthService:      svcs.authSvc,
		IterationService: svcs.iterSvc,
		CandidateService: svcs.candSvc,
		VoteService:      svcs.voteSvc,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsServer := newMetricsServer(cfg.MetricsPort, svcs.registry)

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

	go func() {
		slog.Info("metrics server starting",
			slog.String("addr", metricsServer.Addr),
		)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、締切スイープを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	svcs := buildServices(cfg, db)

	sweeper := sweep.NewSweeper(
		svcs.iterRepo, svcs.iterSvc, svcs.collector, slog.Default(), nil,
	)

	metricsServer := newMetricsServer(cfg.MetricsPort, svcs.registry)

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

	go func() {
		slog.Info("metrics server starting",
			slog.String("addr", metricsServer.Addr),
		)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
	)

	// 締切スイープをメインgoroutineで実行（ブロッキング）
	sweeper.Start(ctx, cfg.SweepInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

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

// openDatabase はDB接続を開き、疎通確認まで行う。
func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// newMetricsServer はPrometheusエンドポイント用のHTTPサーバーを生成する。
func newMetricsServer(port string, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      metrics.SetupMetricsRoute(gatherer),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
