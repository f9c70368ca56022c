package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/perkledger/internal/audit"
	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/metrics"
	"github.com/hitoshi/perkledger/internal/middleware"
)

// HealthChecker はデータストアの疎通確認を行う。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	GatewayToken      string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker

	// 権限
	Capabilities CapabilityResolver
	Profiles     identity.ProfileReader
	Sanitizer    TextSanitizer

	VoucherService    VoucherServiceInterface
	BalanceService    BalanceServiceInterface
	UsernameService   UsernameServiceInterface
	ProfileService    ProfileServiceInterface
	NightWheelService NightWheelServiceInterface
	AuditLister       AuditLister
	RateWindowLister  RateWindowLister
	Auditor           audit.Appender
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Recovery → Logging → Identity → RateLimit → Capabilities
//
// /health と /metrics は識別ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))

	voucherHandler := NewVoucherHandler(deps.VoucherService)
	balanceHandler := NewBalanceHandler(deps.BalanceService, deps.Profiles, deps.Sanitizer)
	usernameHandler := NewUsernameHandler(deps.UsernameService, deps.Sanitizer)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.Auditor)
	wheelHandler := NewNightWheelHandler(deps.NightWheelService)
	reportHandler := NewReportHandler(deps.AuditLister, deps.RateWindowLister)

	// --- 識別不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 識別が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.GatewayToken))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(withCapabilities(deps.Capabilities))

		adminOrCEO := requireAny(identity.CapabilityAdmin, identity.CapabilityCEO)

		r.Route("/api/vouchers", func(r chi.Router) {
			r.With(adminOrCEO).Post("/", voucherHandler.Issue)
			r.With(adminOrCEO).Get("/", voucherHandler.List)
			r.Post("/{code}/redeem", voucherHandler.Redeem)
		})

		r.Get("/api/balances/{kind}", balanceHandler.Get)
		r.Post("/api/points", balanceHandler.AwardPoints)

		r.Route("/api/members/{ownerID}", func(r chi.Router) {
			r.Use(adminOrCEO)
			r.Post("/balances/{kind}", balanceHandler.Adjust)
			r.Post("/packs/{packID}", balanceHandler.ApplyPack)
		})

		r.Route("/api/usernames/{name}", func(r chi.Router) {
			r.Get("/", usernameHandler.Lookup)
			r.Put("/", usernameHandler.Reserve)
			r.Delete("/", usernameHandler.Release)
		})

		r.Post("/api/profile", profileHandler.Ensure)
		r.Get("/api/profile", profileHandler.Get)

		r.Post("/api/night-wheel/spins", wheelHandler.Spin)

		r.With(adminOrCEO).Get("/api/audit", reportHandler.ListAudit)
		r.With(adminOrCEO).Get("/api/rate-windows", reportHandler.ListRateWindows)
	})

	return r
}

// healthHandler はデータストアの疎通を確認するハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
