// Package connector はECプラットフォームAPIとの連携を提供する。
// 各プラットフォームの認証・トークン更新・商品取得を共通インターフェースの
// 背後に隠蔽し、上位層はプラットフォーム差分を意識しない。
package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/model"
)

// maxErrorBodySize は診断用に保持する上流エラーボディの最大バイト数。
const maxErrorBodySize = 512

// Credential はプラットフォームAPIの資格情報。
// OAuthプラットフォームではアクセストークンとリフレッシュトークン、
// キー認証プラットフォームでは結合済みキーをAccessTokenに保持する。
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // ゼロ値は無期限
	ShopDomain   string    // API呼び出し先の決定に使用する
}

// AuthInput は接続フローの入力。OAuthプラットフォームでは認可コード、
// キー認証プラットフォームではAPIキーとシークレットを使用する。
type AuthInput struct {
	Code       string
	APIKey     string
	APISecret  string
	ShopDomain string
}

// AccountInfo はプラットフォーム上のアカウント識別情報。
// ExternalAccountIDはストアUPSERTの自然キーの一部になる。
type AccountInfo struct {
	ExternalAccountID string
	Name              string
}

// Product はプラットフォーム上の商品。
// Currencyが空の場合、呼び出し元が設定のフォールバック通貨を適用する。
type Product struct {
	PlatformProductID string
	Title             string
	Price             decimal.Decimal
	Currency          string
}

// ProductPage は商品一覧の1ページ。ページ番号は0始まり。
type ProductPage struct {
	Products []Product
	NextPage int
	HasMore  bool
}

// Connector はプラットフォーム連携の共通インターフェース。
type Connector interface {
	// Platform はこのコネクタが扱うプラットフォームを返す。
	Platform() model.Platform

	// Authenticate は接続フローの入力を検証し、資格情報を取得する。
	// 失敗時はmodel.AuthErrorを返す。
	Authenticate(ctx context.Context, input AuthInput) (*Credential, error)

	// Refresh はリフレッシュトークンで資格情報を更新する。
	// リフレッシュ概念を持たないプラットフォームでは入力をそのまま返す。
	// リフレッシュトークン自体の失効時はmodel.AuthErrorを返す。
	Refresh(ctx context.Context, cred *Credential) (*Credential, error)

	// FetchAccountInfo は資格情報でアカウント識別情報を取得する。
	FetchAccountInfo(ctx context.Context, cred *Credential) (*AccountInfo, error)

	// FetchProducts は商品一覧の1ページを取得する。pageは0始まり。
	FetchProducts(ctx context.Context, cred *Credential, page, pageSize int) (*ProductPage, error)
}

// Registry はプラットフォーム名からコネクタを引くレジストリ。
type Registry struct {
	connectors map[model.Platform]Connector
}

// NewRegistry はコネクタを登録したレジストリを生成する。
func NewRegistry(connectors ...Connector) *Registry {
	m := make(map[model.Platform]Connector, len(connectors))
	for _, c := range connectors {
		m[c.Platform()] = c
	}
	return &Registry{connectors: m}
}

// Get は指定プラットフォームのコネクタを返す。
func (r *Registry) Get(platform model.Platform) (Connector, error) {
	c, ok := r.connectors[platform]
	if !ok {
		return nil, fmt.Errorf("未対応のプラットフォームです: %s", platform)
	}
	return c, nil
}

// classifyResponse は非成功レスポンスを失敗分類付きのエラーに変換する。
// 401/403は認証失敗、429はレート制限、それ以外はフェッチ失敗として扱う。
func classifyResponse(resp *http.Response, reqURL string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &model.AuthError{
			Reason: model.AuthReasonInvalidCredentials,
			Detail: fmt.Sprintf("status=%d", resp.StatusCode),
		}
	case http.StatusTooManyRequests:
		return &model.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return &model.FetchError{
			Status: resp.StatusCode,
			URL:    reqURL,
			Body:   string(body),
		}
	}
}

// parseRetryAfter はRetry-Afterヘッダ（秒数形式）を解釈する。
// 解釈できない場合は0を返し、呼び出し元が既定のバックオフを適用する。
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
