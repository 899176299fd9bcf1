// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pricewatch/internal/connect"
	"github.com/hitoshi/pricewatch/internal/middleware"
	"github.com/hitoshi/pricewatch/internal/model"
)

// ConnectServiceInterface は接続ハンドラーが必要とするサービスインターフェース。
type ConnectServiceInterface interface {
	// BeginAuthorization はOAuth認可フローを開始し、リダイレクト先URLを返す。
	BeginAuthorization(ctx context.Context, platform model.Platform, userID, shopDomain string) (string, error)
	// CompleteAuthorization は接続フローを完了し、保存済みストアを返す。
	CompleteAuthorization(ctx context.Context, platform model.Platform, input connect.AuthorizationInput) (*model.Store, error)
}

// ConnectHandler はプラットフォーム接続フローのHTTPハンドラー。
type ConnectHandler struct {
	service ConnectServiceInterface
}

// NewConnectHandler はConnectHandlerを生成する。
func NewConnectHandler(service ConnectServiceInterface) *ConnectHandler {
	return &ConnectHandler{service: service}
}

// connectKeyRequest はキー認証プラットフォームの接続リクエストのボディ。
type connectKeyRequest struct {
	ShopDomain     string `json:"shop_domain"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

// storeResponse はストア情報のAPIレスポンス。資格情報は含めない。
type storeResponse struct {
	ID         string `json:"id"`
	Platform   string `json:"platform"`
	ShopDomain string `json:"shop_domain"`
	Name       string `json:"name"`
	Status     string `json:"status"`
}

// Login はOAuth認可フローを開始する。
// GET /api/connect/{platform}/login?shop=xxx
func (h *ConnectHandler) Login(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	platform, apiErr := parsePlatform(chi.URLParam(r, "platform"))
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	shopDomain := r.URL.Query().Get("shop")
	if shopDomain == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "shopパラメータがありません。",
			Category: "validation",
			Action:   "ストアのドメインをshopパラメータで指定してください。",
		})
		return
	}

	url, err := h.service.BeginAuthorization(r.Context(), platform, userID, shopDomain)
	if err != nil {
		slog.Error("failed to begin authorization",
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, err)
		return
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /connect/{platform}/callback?code=xxx&state=yyy&shop=zzz
//
// stateの検証はサービス層が永続化済みノンスに対して行うため、
// このエンドポイントは認証ミドルウェアの外に置かれる。
func (h *ConnectHandler) Callback(w http.ResponseWriter, r *http.Request) {
	platform, apiErr := parsePlatform(chi.URLParam(r, "platform"))
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "認可コードがありません。",
			Category: "validation",
			Action:   "認可フローを最初からやり直してください。",
		})
		return
	}

	store, err := h.service.CompleteAuthorization(r.Context(), platform, connect.AuthorizationInput{
		Code:       code,
		State:      r.URL.Query().Get("state"),
		ShopDomain: r.URL.Query().Get("shop"),
	})
	if err != nil {
		slog.Warn("oauth callback failed",
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toStoreResponse(store))
}

// ConnectWithKey はキー認証プラットフォームを直接接続する。
// POST /api/connect/{platform}
func (h *ConnectHandler) ConnectWithKey(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	platform, apiErr := parsePlatform(chi.URLParam(r, "platform"))
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	if platform.UsesOAuth() {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidPlatform,
			Message:  "このプラットフォームはOAuth認可フローで接続してください。",
			Category: "validation",
			Action:   "loginエンドポイントから認可フローを開始してください。",
		})
		return
	}

	var req connectKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	if req.ShopDomain == "" || req.ConsumerKey == "" || req.ConsumerSecret == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "shop_domain, consumer_key, consumer_secretは必須です。",
			Category: "validation",
			Action:   "接続に必要な項目をすべて指定してください。",
		})
		return
	}

	store, err := h.service.CompleteAuthorization(r.Context(), platform, connect.AuthorizationInput{
		UserID:     userID,
		ShopDomain: req.ShopDomain,
		APIKey:     req.ConsumerKey,
		APISecret:  req.ConsumerSecret,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toStoreResponse(store))
}

// parsePlatform はURLパラメータからプラットフォーム種別を解析する。
func parsePlatform(raw string) (model.Platform, *model.APIError) {
	platform := model.Platform(raw)
	if !platform.IsValid() {
		return "", &model.APIError{
			Code:     model.ErrCodeInvalidPlatform,
			Message:  "未対応のプラットフォームです: " + raw,
			Category: "validation",
			Action:   "shopifyまたはwoocommerceを指定してください。",
		}
	}
	return platform, nil
}

// toStoreResponse はmodel.StoreからAPIレスポンスに変換する。
func toStoreResponse(store *model.Store) storeResponse {
	return storeResponse{
		ID:         store.ID,
		Platform:   string(store.Platform),
		ShopDomain: store.ShopDomain,
		Name:       store.Name,
		Status:     string(store.Status),
	}
}
