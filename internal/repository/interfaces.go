// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
)

// StoreRepository は接続済みストアの永続化インターフェース。
type StoreRepository interface {
	// FindByID は指定IDのストアを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Store, error)

	// ListSyncable は同期対象（status = connected）のストア一覧を返す。
	ListSyncable(ctx context.Context) ([]*model.Store, error)

	// ListByUserID はユーザーの全ストアを返す。状態は問わない。
	ListByUserID(ctx context.Context, userID string) ([]*model.Store, error)

	// Upsert は自然キー (user_id, platform, external_account_id) で冪等に
	// ストアをUPSERTする。既存行がある場合は資格情報・期限・名前を上書きし、
	// statusをconnectedに戻す。同じ接続フローを2回実行しても行は重複しない。
	Upsert(ctx context.Context, store *model.Store) (*model.Store, error)

	// UpdateCredentials はリフレッシュ成功後の資格情報と期限を永続化する。
	UpdateCredentials(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error

	// UpdateStatus はストアの接続状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.StoreStatus) error
}

// LinkRepository は競合リンクの永続化インターフェース。
type LinkRepository interface {
	// FindByID は指定IDの競合リンクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.CompetitorLink, error)

	// ListByProductID は指定商品の競合リンク一覧を返す。
	// productIDが空の場合は全商品の競合リンクを返す。
	ListByProductID(ctx context.Context, productID string) ([]*model.CompetitorLink, error)

	// ListByStoreID は指定ストアに紐づくプラットフォーム参照のリンク一覧を返す。
	ListByStoreID(ctx context.Context, storeID string) ([]*model.CompetitorLink, error)

	// Create は競合リンクを作成する。
	Create(ctx context.Context, link *model.CompetitorLink) error

	// UpdateLabel はラベルを更新する。ラベルは作成後に変更可能な唯一の属性。
	UpdateLabel(ctx context.Context, id, label string) error

	// Delete は指定IDの競合リンクを削除する。
	// 関連するprice_observationsはCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// ObservationRepository は価格観測値の永続化インターフェース。
// 追記専用: InsertのみでUpdate/Deleteは提供しない。
type ObservationRepository interface {
	// Insert は観測値を1行追加する。既存行には一切触れない。
	Insert(ctx context.Context, obs *model.PriceObservation) error

	// ListByLinkID は指定リンクの観測値をobserved_at降順で返す。
	ListByLinkID(ctx context.Context, linkID string, limit int) ([]*model.PriceObservation, error)
}

// OAuthStateRepository は認可フローのstateノンスの永続化インターフェース。
type OAuthStateRepository interface {
	// Create はstateノンスを保存する。
	Create(ctx context.Context, state *model.OAuthState) error

	// Consume はstateノンスを取得して削除する（1回限りの使用）。
	// 見つからない場合はnilを返す。
	Consume(ctx context.Context, state string) (*model.OAuthState, error)
}
