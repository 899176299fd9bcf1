package model

import "time"

// CompetitorLink は自社商品1件に紐づく競合参照を表す。
// 参照先は任意の商品ページURL（スクレイプ対象）、または接続済みストア上の
// プラットフォーム商品ID（API同期対象）のどちらか一方。
// ラベル以外は作成後に変更されない。
type CompetitorLink struct {
	ID                string
	ProductID         string
	TargetURL         string // スクレイプ対象のページURL（プラットフォーム参照の場合は空）
	StoreID           string // API同期対象の接続済みストアID（スクレイプ参照の場合は空）
	PlatformProductID string // ストア上の商品ID
	Selector          string // 価格抽出用CSSセレクタの上書き（空ならヒューリスティック適用）
	Label             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Scrapeable はスクレイプ経由で観測する参照かを返す。
func (l *CompetitorLink) Scrapeable() bool {
	return l.TargetURL != ""
}
