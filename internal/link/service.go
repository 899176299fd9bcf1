// Package link は競合リンクの管理機能を提供する。
// 登録時のSSRF検証と参照先の整合性チェックを含む。
package link

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
}

// TextSanitizer は外部由来テキストの無害化インターフェース。
type TextSanitizer interface {
	Sanitize(input string) string
}

// CreateInput は競合リンク登録の入力。
// TargetURL（スクレイプ参照）か StoreID + PlatformProductID（API同期参照）の
// どちらか一方を指定する。
type CreateInput struct {
	ProductID         string
	TargetURL         string
	StoreID           string
	PlatformProductID string
	Selector          string
	Label             string
}

// Service は競合リンク管理のアプリケーションサービス。
type Service struct {
	links        repository.LinkRepository
	stores       repository.StoreRepository
	observations repository.ObservationRepository
	ssrfGuard    SSRFValidator
	sanitizer    TextSanitizer
	logger       *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	links repository.LinkRepository,
	stores repository.StoreRepository,
	observations repository.ObservationRepository,
	ssrfGuard SSRFValidator,
	sanitizer TextSanitizer,
	logger *slog.Logger,
) *Service {
	return &Service{
		links:        links,
		stores:       stores,
		observations: observations,
		ssrfGuard:    ssrfGuard,
		sanitizer:    sanitizer,
		logger:       logger,
	}
}

// Create は競合リンクを登録する。
// スクレイプ参照のURLは登録時点でSSRF検証し、内部ネットワークへの
// 参照をデータとして持ち込ませない。
func (s *Service) Create(ctx context.Context, input CreateInput) (*model.CompetitorLink, error) {
	if input.ProductID == "" {
		return nil, &model.APIError{
			Code:     model.ErrCodeInvalidTarget,
			Message:  "商品IDがありません。",
			Category: "validation",
			Action:   "product_idを指定してください。",
		}
	}

	hasURL := input.TargetURL != ""
	hasPlatformRef := input.StoreID != "" && input.PlatformProductID != ""
	if hasURL == hasPlatformRef {
		return nil, &model.APIError{
			Code:     model.ErrCodeInvalidTarget,
			Message:  "参照先はtarget_urlか (store_id, platform_product_id) のどちらか一方を指定してください。",
			Category: "validation",
			Action:   "参照先の指定を見直してください。",
		}
	}

	if hasURL {
		if err := s.ssrfGuard.ValidateURL(input.TargetURL); err != nil {
			return nil, model.NewSSRFBlockedError(err.Error())
		}
	} else {
		store, err := s.stores.FindByID(ctx, input.StoreID)
		if err != nil {
			return nil, err
		}
		if store == nil {
			return nil, model.NewStoreNotFoundError(input.StoreID)
		}
	}

	now := time.Now()
	link := &model.CompetitorLink{
		ID:                uuid.New().String(),
		ProductID:         input.ProductID,
		TargetURL:         input.TargetURL,
		StoreID:           input.StoreID,
		PlatformProductID: input.PlatformProductID,
		Selector:          input.Selector,
		Label:             s.sanitizer.Sanitize(input.Label),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.links.Create(ctx, link); err != nil {
		return nil, err
	}

	s.logger.Info("競合リンクを登録しました",
		slog.String("link_id", link.ID),
		slog.String("product_id", link.ProductID),
		slog.Bool("scrapeable", link.Scrapeable()),
	)
	return link, nil
}

// List は競合リンク一覧を返す。productIDが空の場合は全件。
func (s *Service) List(ctx context.Context, productID string) ([]*model.CompetitorLink, error) {
	return s.links.ListByProductID(ctx, productID)
}

// UpdateLabel はラベルを更新する。ラベルは作成後に変更可能な唯一の属性。
func (s *Service) UpdateLabel(ctx context.Context, linkID, label string) (*model.CompetitorLink, error) {
	existing, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, model.NewLinkNotFoundError(linkID)
	}

	sanitized := s.sanitizer.Sanitize(label)
	if err := s.links.UpdateLabel(ctx, linkID, sanitized); err != nil {
		return nil, err
	}
	existing.Label = sanitized
	return existing, nil
}

// Delete は競合リンクを削除する。
// 観測履歴はDB側のCASCADE削除に委ねる。
func (s *Service) Delete(ctx context.Context, linkID string) error {
	existing, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		return err
	}
	if existing == nil {
		return model.NewLinkNotFoundError(linkID)
	}
	return s.links.Delete(ctx, linkID)
}

// History は競合リンクの価格観測履歴を新しい順で返す。
func (s *Service) History(ctx context.Context, linkID string, limit int) ([]*model.PriceObservation, error) {
	existing, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, model.NewLinkNotFoundError(linkID)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.observations.ListByLinkID(ctx, linkID, limit)
}
