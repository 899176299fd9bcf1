package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pricewatch/internal/model"
)

// SyncServiceInterface は同期ハンドラーが必要とするオーケストレーションインターフェース。
type SyncServiceInterface interface {
	// SyncAll は同期対象の全ストアを同期し、実行サマリを返す。
	SyncAll(ctx context.Context) (*model.SyncRun, error)
	// ScrapeProduct は指定商品の競合リンクをスクレイプし、実行サマリを返す。
	ScrapeProduct(ctx context.Context, productID string) (*model.SyncRun, error)
}

// SyncHandler は手動同期トリガーのHTTPハンドラー。
type SyncHandler struct {
	service SyncServiceInterface
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(service SyncServiceInterface) *SyncHandler {
	return &SyncHandler{service: service}
}

// outcomeResponse は同期対象1件の処理結果のAPIレスポンス。
type outcomeResponse struct {
	TargetID      string `json:"target_id"`
	Kind          string `json:"kind"`
	ObservationID string `json:"observation_id,omitempty"`
	Observations  int    `json:"observations,omitempty"`
	Reason        string `json:"reason,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	Message       string `json:"message,omitempty"`
}

// syncRunResponse は同期実行サマリのAPIレスポンス。
type syncRunResponse struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Total      int               `json:"total"`
	Succeeded  int               `json:"succeeded"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Outcomes   []outcomeResponse `json:"outcomes"`
}

// SyncAll は全ストアの手動同期を実行する。
// POST /api/sync
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.SyncAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSyncRunResponse(run))
}

// ScrapeProduct は商品1件の競合スクレイプを実行する。
// POST /api/products/:id/scrape
func (h *SyncHandler) ScrapeProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	run, err := h.service.ScrapeProduct(r.Context(), productID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSyncRunResponse(run))
}

// toSyncRunResponse はmodel.SyncRunからAPIレスポンスに変換する。
func toSyncRunResponse(run *model.SyncRun) syncRunResponse {
	outcomes := make([]outcomeResponse, 0, len(run.Outcomes))
	for _, o := range run.Outcomes {
		outcomes = append(outcomes, toOutcomeResponse(o))
	}
	return syncRunResponse{
		ID:         run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Total:      run.Total(),
		Succeeded:  run.Succeeded,
		Skipped:    run.Skipped,
		Failed:     run.Failed,
		Outcomes:   outcomes,
	}
}

// toOutcomeResponse はmodel.OutcomeからAPIレスポンスに変換する。
func toOutcomeResponse(o model.Outcome) outcomeResponse {
	return outcomeResponse{
		TargetID:      o.TargetID,
		Kind:          string(o.Kind),
		ObservationID: o.ObservationID,
		Observations:  o.Observations,
		Reason:        o.Reason,
		ErrorKind:     string(o.ErrorKind),
		Message:       o.Message,
	}
}
