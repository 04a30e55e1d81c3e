package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Djangliori/task-new-app/internal/i18n"
	"github.com/Djangliori/task-new-app/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// インフラ
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Logger         *slog.Logger

	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	Cookie            middleware.CookieOptions
	HSTS              bool

	// 認証
	AuthFlows AuthFlowServiceInterface
	Sessions  SessionServiceInterface

	// ストア
	Stores StoreProvider

	DefaultLanguage i18n.Lang
	Location        *time.Location
	Now             func() time.Time
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → CSRF → (グループごと) Session → RateLimit
//
// 認証ルート（/auth/*）はIP単位、APIルートはユーザー単位でレート制限する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.Cookie))

	healthHandler := NewHealthHandler(deps.HealthChecker)
	prefsHandler := NewPrefsHandler(deps.DefaultLanguage, deps.Cookie)
	authHandler := NewAuthHandler(deps.AuthFlows, deps.Sessions, AuthHandlerConfig{
		Cookie:          deps.Cookie,
		DefaultLanguage: deps.DefaultLanguage,
	})
	stateHandler := NewStateHandler(deps.Stores)
	taskHandler := NewTaskHandler(deps.Stores, TaskHandlerConfig{
		Location: deps.Location,
		Now:      deps.Now,
	})

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.Cookie))
	r.Get("/api/preferences", prefsHandler.Get)
	r.Put("/api/preferences", prefsHandler.Update)
	r.Get("/auth/bootstrap", authHandler.Bootstrap)

	// --- 認証フロー ---
	// ミドルウェアスタック: RateLimit(Auth)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/forgot-password", authHandler.ForgotPassword)
		r.Post("/auth/reset-password/inspect", authHandler.InspectReset)
		r.Post("/auth/reset-password", authHandler.ResetPassword)
		r.Post("/auth/confirm/inspect", authHandler.InspectConfirm)
		r.Post("/auth/confirm", authHandler.ConfirmEmail)
		r.Post("/auth/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/state", func(r chi.Router) {
			r.Get("/", stateHandler.GetState)
			r.Post("/reload", stateHandler.Reload)
		})

		r.Route("/api/projects", func(r chi.Router) {
			r.Get("/", stateHandler.ListProjects)
			r.Post("/", stateHandler.CreateProject)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", stateHandler.RenameProject)
				r.Delete("/", stateHandler.DeleteProject)
				r.Post("/toggle", stateHandler.ToggleProject)
			})
		})

		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.ListTasks)
			r.Post("/", taskHandler.CreateTask)
			r.Get("/calendar", taskHandler.Calendar)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", taskHandler.EditTask)
				r.Delete("/", taskHandler.DeleteTask)
				r.Post("/toggle", taskHandler.ToggleTask)
			})
		})
	})

	return r
}
