package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andre-sptr/tamanweb-sub000/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	AdminChecker      middleware.AdminChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	HSTS              bool

	// 監視（nilの場合は無効）
	HealthChecker      HealthChecker
	MetricsHandler     http.Handler
	HTTPStatusRecorder middleware.HTTPStatusRecorder

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// カタログ・注文・管理
	CatalogService      CatalogServiceInterface
	OrderService        OrderServiceInterface
	WebhookProcessor    WebhookProcessor
	WebhookMaxBodyBytes int64
	AdminService        AdminServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS
//	  認証必須ルート: Session → RateLimit(General) → CSRF
//	  管理ルート:     Session → RateLimit(General) → CSRF → Admin
//
// Webhookは署名で認証するため、セッション・CSRFの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	if deps.HTTPStatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPStatusRecorder))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	catalogHandler := NewCatalogHandler(deps.CatalogService)
	orderHandler := NewOrderHandler(deps.OrderService)
	webhookHandler := NewWebhookHandler(deps.WebhookProcessor, deps.WebhookMaxBodyBytes)
	adminHandler := NewAdminHandler(deps.AdminService)

	// --- 認証不要のルート ---

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", catalogHandler.ListProducts)
		r.Get("/{slug}", catalogHandler.GetProduct)
	})

	r.Post("/api/webhooks/stripe", webhookHandler.Stripe)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// POST /api/checkout - チェックアウト開始（専用レート制限を追加）
		r.With(deps.RateLimiter.CheckoutMiddleware()).Post("/api/checkout", orderHandler.Checkout)
		r.Get("/api/downloads/{productID}", orderHandler.Download)
		r.Get("/api/me/purchases", orderHandler.ListPurchases)

		// 管理
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.NewAdminMiddleware(deps.AdminChecker))

			r.Route("/products", func(r chi.Router) {
				r.Get("/", catalogHandler.AdminListProducts)
				r.Post("/", catalogHandler.AdminCreateProduct)
				r.Put("/{id}", catalogHandler.AdminUpdateProduct)
				r.Delete("/{id}", catalogHandler.AdminDeleteProduct)
			})
			r.Get("/transactions", adminHandler.ListTransactions)
			r.Get("/users", adminHandler.ListUsers)
			r.Delete("/users/{id}", adminHandler.DeleteUser)
			r.Get("/reports/sales", adminHandler.SalesReport)
		})
	})

	return r
}
