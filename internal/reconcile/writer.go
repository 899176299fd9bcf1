// Package reconcile は取り込み結果の永続化を提供する。
// ストアの冪等UPSERTと、追記専用の価格観測値の記録を担当する。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// TextSanitizer は外部由来テキストの無害化インターフェース。
type TextSanitizer interface {
	Sanitize(input string) string
}

// StoreInput は接続フローが収集したストア情報。
type StoreInput struct {
	UserID            string
	Platform          model.Platform
	ExternalAccountID string
	ShopDomain        string
	Name              string
	AccessToken       string
	RefreshToken      string
	TokenExpiresAt    time.Time
}

// Writer は取り込み結果をストレージへ書き込む。
type Writer struct {
	stores       repository.StoreRepository
	observations repository.ObservationRepository
	sanitizer    TextSanitizer
	logger       *slog.Logger
}

// NewWriter はWriterを生成する。
func NewWriter(stores repository.StoreRepository, observations repository.ObservationRepository, sanitizer TextSanitizer, logger *slog.Logger) *Writer {
	return &Writer{
		stores:       stores,
		observations: observations,
		sanitizer:    sanitizer,
		logger:       logger,
	}
}

// UpsertStore は自然キー (user_id, platform, external_account_id) で
// 冪等にストアを保存する。同じ接続フローを2回実行しても行は重複せず、
// 既存行の資格情報・期限・名前が上書きされる。
func (w *Writer) UpsertStore(ctx context.Context, input StoreInput) (*model.Store, error) {
	if !input.Platform.IsValid() {
		return nil, fmt.Errorf("不正なプラットフォームです: %s", input.Platform)
	}
	if input.UserID == "" {
		return nil, fmt.Errorf("ユーザーIDがありません")
	}
	if input.ExternalAccountID == "" {
		return nil, fmt.Errorf("外部アカウントIDがありません")
	}

	store := &model.Store{
		UserID:            input.UserID,
		Platform:          input.Platform,
		ExternalAccountID: input.ExternalAccountID,
		ShopDomain:        input.ShopDomain,
		Name:              w.sanitizer.Sanitize(input.Name),
		AccessToken:       input.AccessToken,
		RefreshToken:      input.RefreshToken,
		TokenExpiresAt:    input.TokenExpiresAt,
		Status:            model.StoreStatusConnected,
	}

	saved, err := w.stores.Upsert(ctx, store)
	if err != nil {
		return nil, err
	}

	w.logger.Info("ストアを保存しました",
		slog.String("store_id", saved.ID),
		slog.String("platform", string(saved.Platform)),
		slog.String("external_account_id", saved.ExternalAccountID),
	)
	return saved, nil
}

// RecordObservation は価格観測値を1行追記する。
// 観測履歴は不変であり、このメソッドは既存行を一切変更しない。
// 同じリンクにN回呼べばN行が残る。
func (w *Writer) RecordObservation(ctx context.Context, linkID string, price decimal.Decimal, currency string, observedAt time.Time) (*model.PriceObservation, error) {
	if linkID == "" {
		return nil, fmt.Errorf("競合リンクIDがありません")
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("価格が負数です: %s", price)
	}
	if currency == "" {
		return nil, fmt.Errorf("通貨コードがありません")
	}
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	obs := &model.PriceObservation{
		ID:         uuid.New().String(),
		LinkID:     linkID,
		Price:      price,
		Currency:   strings.ToUpper(currency),
		ObservedAt: observedAt,
	}

	if err := w.observations.Insert(ctx, obs); err != nil {
		return nil, fmt.Errorf("観測値の記録に失敗しました: %w", err)
	}

	w.logger.Debug("価格観測値を記録しました",
		slog.String("observation_id", obs.ID),
		slog.String("link_id", linkID),
		slog.String("price", price.String()),
		slog.String("currency", obs.Currency),
	)
	return obs, nil
}
