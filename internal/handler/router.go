package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pricewatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HTTPMetrics       middleware.HTTPMetricsRecorder // nilの場合は記録しない
	Logger            *slog.Logger                   // nilの場合はリクエストログを出力しない

	// 接続フロー
	ConnectService ConnectServiceInterface

	// ストア
	StoreService StoreServiceInterface
	StoreFinder  StoreFinder

	// 同期
	SyncService SyncServiceInterface
	StoreSyncer StoreSyncer

	// 競合リンク
	LinkService LinkServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → IdentityMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// OAuthコールバック（/connect/*/callback）は外部プラットフォームからの
// リダイレクトで呼ばれるため、ミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 回復とCORSは最上位に適用（全ルートに効く）
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}

	connectHandler := NewConnectHandler(deps.ConnectService)
	storeHandler := NewStoreHandler(deps.StoreService, deps.StoreFinder, deps.StoreSyncer)
	syncHandler := NewSyncHandler(deps.SyncService)
	linkHandler := NewLinkHandler(deps.LinkService)

	// --- 認証不要のルート ---

	// ヘルスチェック
	r.Get("/health", handleHealth)

	// OAuthコールバック（stateノンスで正当性を検証する）
	r.Get("/connect/{platform}/callback", connectHandler.Callback)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プラットフォーム接続
		r.Route("/api/connect/{platform}", func(r chi.Router) {
			r.Get("/login", connectHandler.Login)
			r.Post("/", connectHandler.ConnectWithKey)
		})

		// ストア管理
		r.Route("/api/stores", func(r chi.Router) {
			r.Get("/", storeHandler.ListStores)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", storeHandler.DisconnectStore)

				// POST /api/stores/{id}/sync - 手動同期（同期専用レート制限を追加）
				r.With(deps.RateLimiter.SyncMiddleware()).Post("/sync", storeHandler.SyncStore)
			})
		})

		// 同期トリガー（同期専用レート制限を追加）
		r.With(deps.RateLimiter.SyncMiddleware()).Post("/api/sync", syncHandler.SyncAll)
		r.With(deps.RateLimiter.SyncMiddleware()).Post("/api/products/{id}/scrape", syncHandler.ScrapeProduct)

		// 競合リンク管理
		r.Route("/api/links", func(r chi.Router) {
			r.Post("/", linkHandler.CreateLink)
			r.Get("/", linkHandler.ListLinks)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", linkHandler.UpdateLink)
				r.Delete("/", linkHandler.DeleteLink)
				r.Get("/history", linkHandler.GetHistory)
			})
		})
	})

	return r
}

// handleHealth はヘルスチェックリクエストに応答する。
// GET /health
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
