package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pricewatch/internal/middleware"
	"github.com/hitoshi/pricewatch/internal/model"
)

// StoreServiceInterface はストアハンドラーが必要とするサービスインターフェース。
type StoreServiceInterface interface {
	// ListStores はユーザーの接続済みストア一覧を返す。
	ListStores(ctx context.Context, userID string) ([]*model.Store, error)
	// Disconnect はユーザー操作によるストア切断を処理する。
	Disconnect(ctx context.Context, storeID, userID string) error
}

// StoreFinder はストア取得のためのインターフェース。
// 手動同期時のストア解決で使用する。
type StoreFinder interface {
	FindByID(ctx context.Context, id string) (*model.Store, error)
}

// StoreSyncer は1ストアの手動同期インターフェース。
type StoreSyncer interface {
	SyncOne(ctx context.Context, store *model.Store) model.Outcome
}

// StoreHandler はストア管理のHTTPハンドラー。
type StoreHandler struct {
	service StoreServiceInterface
	stores  StoreFinder
	syncer  StoreSyncer
}

// NewStoreHandler はStoreHandlerを生成する。
func NewStoreHandler(service StoreServiceInterface, stores StoreFinder, syncer StoreSyncer) *StoreHandler {
	return &StoreHandler{
		service: service,
		stores:  stores,
		syncer:  syncer,
	}
}

// ListStores は接続済みストア一覧を取得する。
// GET /api/stores
func (h *StoreHandler) ListStores(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	stores, err := h.service.ListStores(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]storeResponse, 0, len(stores))
	for _, store := range stores {
		responses = append(responses, toStoreResponse(store))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"stores": responses,
	})
}

// DisconnectStore はストアを切断する。
// DELETE /api/stores/:id
func (h *StoreHandler) DisconnectStore(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	storeID := chi.URLParam(r, "id")

	if err := h.service.Disconnect(r.Context(), storeID, userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SyncStore は1ストアの手動同期を実行する。
// POST /api/stores/:id/sync
func (h *StoreHandler) SyncStore(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	storeID := chi.URLParam(r, "id")

	store, err := h.stores.FindByID(r.Context(), storeID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if store == nil || store.UserID != userID {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewStoreNotFoundError(storeID))
		return
	}

	outcome := h.syncer.SyncOne(r.Context(), store)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toOutcomeResponse(outcome))
}
