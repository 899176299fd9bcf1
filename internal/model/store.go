// Package model はドメインモデルを定義する。
package model

import "time"

// Platform は接続先ECプラットフォームの種別を表す。
type Platform string

const (
	// PlatformShopify はOAuth認可コードグラントで接続するShopify。
	PlatformShopify Platform = "shopify"
	// PlatformWooCommerce はキー/シークレットのBasic認証で接続するWooCommerce。
	PlatformWooCommerce Platform = "woocommerce"
)

// IsValid はプラットフォーム種別がサポート対象かを返す。
func (p Platform) IsValid() bool {
	return p == PlatformShopify || p == PlatformWooCommerce
}

// UsesOAuth はリフレッシュトークンを持つOAuth系プラットフォームかを返す。
// キー認証系（WooCommerce）は失効しないためリフレッシュ対象外。
func (p Platform) UsesOAuth() bool {
	return p == PlatformShopify
}

// StoreStatus はストア接続の状態を表す。
type StoreStatus string

const (
	// StoreStatusConnected は正常に接続された状態。
	StoreStatusConnected StoreStatus = "connected"
	// StoreStatusNeedsReauth はリフレッシュ不能となり再認可待ちの状態。
	// ユーザーが再認可するまで同期対象から除外される。
	StoreStatusNeedsReauth StoreStatus = "needs_reauth"
	// StoreStatusDisconnected はユーザー操作により切断された状態。
	StoreStatusDisconnected StoreStatus = "disconnected"
)

// Store は接続済み外部アカウントを表す。
// (user_id, platform, external_account_id) の組が自然キーであり、
// 再接続は既存行の上書き更新として扱う（重複行は作らない）。
type Store struct {
	ID                string
	UserID            string
	Platform          Platform
	ExternalAccountID string
	ShopDomain        string // API呼び出し先のホスト名（例: demo.myshopify.com）
	Name              string
	AccessToken       string
	RefreshToken      string
	TokenExpiresAt    time.Time // ゼロ値は無期限（キー認証系）
	Status            StoreStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Syncable は同期対象として有効なストアかを返す。
// needs_reauth / disconnected のストアはネットワーク呼び出しなしで除外する。
func (s *Store) Syncable() bool {
	return s.Status == StoreStatusConnected
}

// TokenExpiresWithin は有効期限が現在時刻からmargin以内に到来するかを返す。
// 有効期限を持たないストア（キー認証系）は常にfalse。
func (s *Store) TokenExpiresWithin(margin time.Duration) bool {
	if s.TokenExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(s.TokenExpiresAt)
}
