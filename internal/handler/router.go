package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hallpass/internal/metrics"
	"github.com/hitoshi/hallpass/internal/middleware"
	"github.com/hitoshi/hallpass/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector

	// パス記録
	PassService PassServiceInterface

	// 表示設定・運用
	ClientConfig   ClientConfig
	Health         Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Metrics → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// 記録・削除のルートにはさらにRateLimit(Mutation)を適用する。
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteMethodNotAllowed(w)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:    "ROUTE_NOT_FOUND",
			Message: "Not found",
		})
	})

	// --- 運用系のルート ---
	if deps.Health != nil {
		r.Get("/health", NewHealthHandler(deps.Health))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	passHandler := NewPassHandler(deps.PassService)

	// --- API ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Get("/api/config", NewConfigHandler(deps.ClientConfig))

		// 参照
		r.Get("/api/get-logs", passHandler.GetLogs)
		r.Get("/api/get-all-logs", passHandler.GetAllLogs)
		r.Get("/api/admin/report", passHandler.Report)
		r.Get("/api/admin/archive", passHandler.Archive)

		// 記録・削除（専用レート制限を追加）
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.MutationMiddleware())
			}

			r.Post("/api/log-pass", passHandler.LogPass)
			r.Delete("/api/delete-pass", passHandler.DeletePass)
			r.Delete("/api/delete-pass/{id}", passHandler.DeletePass)
			r.Delete("/api/delete-teacher-passes", passHandler.DeleteTeacherPasses)
			r.Delete("/api/delete-all-passes", passHandler.DeleteAllPasses)
		})
	})

	return r
}
