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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/perkledger/internal/allowance"
	"github.com/hitoshi/perkledger/internal/audit"
	"github.com/hitoshi/perkledger/internal/balance"
	"github.com/hitoshi/perkledger/internal/catalog"
	"github.com/hitoshi/perkledger/internal/config"
	"github.com/hitoshi/perkledger/internal/database"
	"github.com/hitoshi/perkledger/internal/handler"
	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/logger"
	"github.com/hitoshi/perkledger/internal/metrics"
	"github.com/hitoshi/perkledger/internal/middleware"
	"github.com/hitoshi/perkledger/internal/nightwheel"
	"github.com/hitoshi/perkledger/internal/notify"
	"github.com/hitoshi/perkledger/internal/profile"
	"github.com/hitoshi/perkledger/internal/ratelimit"
	"github.com/hitoshi/perkledger/internal/repository"
	"github.com/hitoshi/perkledger/internal/reservation"
	"github.com/hitoshi/perkledger/internal/security"
	"github.com/hitoshi/perkledger/internal/voucher"
	"github.com/hitoshi/perkledger/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
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
// argsにはos.Args[1:]を渡す。SIGINT/SIGTERMで各サブコマンドのcontextがキャンセルされる。
func Run(w io.Writer, args []string) error {
	if args == nil {
		args = []string{}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// start は設定を読み込んでサブコマンドを実行する。
func start(ctx context.Context, w io.Writer, cmd Command) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("timezone", cfg.ReferenceTimezone),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開いて疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newAuditTrail は監査ログ記録器を構成する。
// NOTIFY_WEBHOOK_URLが設定されている場合はWebhookへの転送を追加する。
func newAuditTrail(cfg *config.Config, repo repository.AuditRepository, m metrics.MetricsCollector) (*audit.Trail, error) {
	var sinks []audit.Sink
	if cfg.NotifyWebhookURL != "" {
		sink, err := notify.NewWebhookSink(cfg.NotifyWebhookURL, cfg.NotifyTimeout, security.NewSSRFGuard())
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
		slog.Info("audit webhook enabled", slog.String("url", maskDatabaseURL(cfg.NotifyWebhookURL)))
	}
	return audit.NewTrail(repo, cfg.AuditBufferSize, m, sinks...), nil
}

// newMetricsRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングしてHTTPサーバーを起動し、
// シグナル受信時にグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. ストアとメトリクスの初期化
	store := repository.NewPostgresDocumentStore(db, cfg.StoreTxMaxAttempts)
	reg := newMetricsRegistry()
	m := metrics.NewCollector(reg)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	trail, err := newAuditTrail(cfg, repository.NewPostgresAuditRepo(db), m)
	if err != nil {
		return err
	}

	// 3. ドメインサービスの初期化
	profiles := profile.NewService(store, cfg.VoucherCodeLength)
	resolver := identity.NewResolver(cfg.CEOEmail, cfg.CEOPassCode, profiles)
	limiter := ratelimit.NewLimiter(store, cfg.Location)

	vouchers := voucher.NewLedger(store, limiter, cat, trail,
		voucher.WithLimits(ratelimit.Limits{PerMinute: cfg.RateLimitPerMinute, PerDay: cfg.RateLimitPerDay}),
		voucher.WithCodeLength(cfg.VoucherCodeLength),
		voucher.WithMetrics(m),
	)
	balances := balance.NewLedger(store, cat, trail, m)
	usernames := reservation.NewRegistry(store, trail)
	tracker := allowance.NewTracker(store, repository.CollectionWeeklySpins)
	wheel := nightwheel.NewService(profiles, tracker, balances, cat, trail, m, cfg.Location)

	frontDoor := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.HTTPRateLimitPerMinute), m)
	defer frontDoor.Stop()

	// 4. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		GatewayToken:      cfg.GatewayToken,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       frontDoor,
		Logger:            slog.Default(),
		Metrics:           m,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     db,

		Capabilities: resolver,
		Profiles:     profiles,
		Sanitizer:    security.NewTextSanitizer(),

		VoucherService:    vouchers,
		BalanceService:    balances,
		UsernameService:   usernames,
		ProfileService:    profiles,
		NightWheelService: wheel,
		AuditLister:       trail,
		RateWindowLister:  limiter,
		Auditor:           trail,
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			trail.Close(context.Background())
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// 処理中のリクエストが積んだ監査ログを書き切る
	if err := trail.Close(shutdownCtx); err != nil {
		slog.Warn("audit trail did not drain", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 起動直後とCLEANUP_INTERVALごとに保持期間のクリーンアップを実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewJob(db, slog.Default(), nil)
	job.RetentionDays = cfg.RetentionDays
	job.BatchLimit = cfg.CleanupBatchLimit

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.RetentionDays),
	)

	schedule(ctx, cfg.CleanupInterval, job.Run)

	slog.Info("worker stopped gracefully")
	return nil
}

// schedule はjobを即時に1回実行し、その後intervalごとにctxが終了するまで実行する。
// jobのエラーはログに記録して実行を継続する。
func schedule(ctx context.Context, interval time.Duration, job func(context.Context) error) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	run := func() {
		if err := job(ctx); err != nil {
			slog.Error("scheduled job failed", slog.String("error", err.Error()))
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	res, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(res.FromVersion)),
		slog.Uint64("to_version", uint64(res.ToVersion)),
		slog.Bool("applied", res.Applied()),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はURLに含まれる認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
