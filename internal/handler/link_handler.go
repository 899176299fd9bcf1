package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pricewatch/internal/link"
	"github.com/hitoshi/pricewatch/internal/model"
)

// LinkServiceInterface は競合リンクハンドラーが必要とするサービスインターフェース。
type LinkServiceInterface interface {
	// Create は競合リンクを登録する。
	Create(ctx context.Context, input link.CreateInput) (*model.CompetitorLink, error)
	// List は競合リンク一覧を返す。productIDが空の場合は全件。
	List(ctx context.Context, productID string) ([]*model.CompetitorLink, error)
	// UpdateLabel はラベルを更新する。
	UpdateLabel(ctx context.Context, linkID, label string) (*model.CompetitorLink, error)
	// Delete は競合リンクを削除する。
	Delete(ctx context.Context, linkID string) error
	// History は価格観測履歴を新しい順で返す。
	History(ctx context.Context, linkID string, limit int) ([]*model.PriceObservation, error)
}

// LinkHandler は競合リンク管理のHTTPハンドラー。
type LinkHandler struct {
	service LinkServiceInterface
}

// NewLinkHandler はLinkHandlerを生成する。
func NewLinkHandler(service LinkServiceInterface) *LinkHandler {
	return &LinkHandler{service: service}
}

// createLinkRequest は競合リンク登録リクエストのボディ。
type createLinkRequest struct {
	ProductID         string `json:"product_id"`
	TargetURL         string `json:"target_url"`
	StoreID           string `json:"store_id"`
	PlatformProductID string `json:"platform_product_id"`
	Selector          string `json:"selector"`
	Label             string `json:"label"`
}

// updateLinkRequest は競合リンク更新リクエストのボディ。
type updateLinkRequest struct {
	Label string `json:"label"`
}

// linkResponse は競合リンク情報のAPIレスポンス。
type linkResponse struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	TargetURL         string    `json:"target_url,omitempty"`
	StoreID           string    `json:"store_id,omitempty"`
	PlatformProductID string    `json:"platform_product_id,omitempty"`
	Selector          string    `json:"selector,omitempty"`
	Label             string    `json:"label"`
	CreatedAt         time.Time `json:"created_at"`
}

// observationResponse は価格観測のAPIレスポンス。
// 価格は浮動小数点の誤差を避けるため文字列で返す。
type observationResponse struct {
	ID         string    `json:"id"`
	LinkID     string    `json:"link_id"`
	Price      string    `json:"price"`
	Currency   string    `json:"currency"`
	ObservedAt time.Time `json:"observed_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// CreateLink は競合リンク登録を処理する。
// POST /api/links
func (h *LinkHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	created, err := h.service.Create(r.Context(), link.CreateInput{
		ProductID:         req.ProductID,
		TargetURL:         req.TargetURL,
		StoreID:           req.StoreID,
		PlatformProductID: req.PlatformProductID,
		Selector:          req.Selector,
		Label:             req.Label,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toLinkResponse(created))
}

// ListLinks は競合リンク一覧を取得する。
// GET /api/links?product_id=xxx
func (h *LinkHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")

	links, err := h.service.List(r.Context(), productID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]linkResponse, 0, len(links))
	for _, l := range links {
		responses = append(responses, toLinkResponse(l))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"links": responses,
	})
}

// UpdateLink は競合リンクのラベルを更新する。
// PATCH /api/links/:id
func (h *LinkHandler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "id")

	var req updateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	updated, err := h.service.UpdateLabel(r.Context(), linkID, req.Label)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toLinkResponse(updated))
}

// DeleteLink は競合リンクを削除する。
// DELETE /api/links/:id
func (h *LinkHandler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), linkID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetHistory は競合リンクの価格観測履歴を取得する。
// GET /api/links/:id/history?limit=50
func (h *LinkHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "limitが数値ではありません。",
				Category: "validation",
				Action:   "limitには正の整数を指定してください。",
			})
			return
		}
		limit = parsed
	}

	observations, err := h.service.History(r.Context(), linkID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]observationResponse, 0, len(observations))
	for _, obs := range observations {
		responses = append(responses, toObservationResponse(obs))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"observations": responses,
	})
}

// --- ヘルパー関数 ---

// toLinkResponse はmodel.CompetitorLinkからAPIレスポンスに変換する。
func toLinkResponse(l *model.CompetitorLink) linkResponse {
	return linkResponse{
		ID:                l.ID,
		ProductID:         l.ProductID,
		TargetURL:         l.TargetURL,
		StoreID:           l.StoreID,
		PlatformProductID: l.PlatformProductID,
		Selector:          l.Selector,
		Label:             l.Label,
		CreatedAt:         l.CreatedAt,
	}
}

// toObservationResponse はmodel.PriceObservationからAPIレスポンスに変換する。
func toObservationResponse(obs *model.PriceObservation) observationResponse {
	return observationResponse{
		ID:         obs.ID,
		LinkID:     obs.LinkID,
		Price:      obs.Price.String(),
		Currency:   obs.Currency,
		ObservedAt: obs.ObservedAt,
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// プラットフォーム認証の失敗は資格情報の問題としてユーザーに返す
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "AUTH_FAILED",
			Message:  "プラットフォームの認証に失敗しました。",
			Category: "auth",
			Action:   "資格情報を確認して再接続してください。",
		})
		return
	}

	// それ以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidTarget, model.ErrCodeInvalidPlatform:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeLinkNotFound, model.ErrCodeStoreNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// unauthorizedError は認証欠如のAPIErrorを生成する。
func unauthorizedError() *model.APIError {
	return &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "X-User-IDヘッダーを付与してください。",
	}
}

// invalidRequestBodyError はリクエストボディ不正のAPIErrorを生成する。
func invalidRequestBodyError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}
