package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/model"
)

// wooCredentialSeparator は結合済みキーの区切り文字。
// WooCommerceはトークンを発行しないため、consumer keyとconsumer secretを
// "ck:cs" 形式で結合しCredential.AccessTokenに保持する。
const wooCredentialSeparator = ":"

// WooCommerceConfig はWooCommerceコネクタの設定。
type WooCommerceConfig struct {
	// BaseURL はテスト用に店舗ドメイン由来のURLを差し替える。
	// 空の場合は https://{shop_domain} を使用する。
	BaseURL string
}

// WooCommerceConnector はWooCommerce REST APIのコネクタ。
// consumer key/secretのBasic認証で接続する。トークンの期限・更新の概念はない。
type WooCommerceConnector struct {
	config     WooCommerceConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWooCommerceConnector はWooCommerceConnectorを生成する。
func NewWooCommerceConnector(config WooCommerceConfig, httpClient *http.Client, logger *slog.Logger) *WooCommerceConnector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &WooCommerceConnector{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Platform はこのコネクタが扱うプラットフォームを返す。
func (c *WooCommerceConnector) Platform() model.Platform {
	return model.PlatformWooCommerce
}

// Authenticate はconsumer key/secretの形式を検証し、結合済みキーの資格情報を返す。
// 検証は同期的なローカル形式チェックのみで、ネットワークには出ない。
// キーの実効性は接続フローの店舗情報取得（FetchAccountInfo）で判明する。
func (c *WooCommerceConnector) Authenticate(ctx context.Context, input AuthInput) (*Credential, error) {
	if input.APIKey == "" || input.APISecret == "" {
		return nil, &model.AuthError{
			Reason: model.AuthReasonInvalidCredentials,
			Detail: "consumer keyまたはconsumer secretがありません",
		}
	}
	if !strings.HasPrefix(input.APIKey, "ck_") || !strings.HasPrefix(input.APISecret, "cs_") {
		return nil, &model.AuthError{
			Reason: model.AuthReasonInvalidCredentials,
			Detail: "consumer key/secretの形式が不正です",
		}
	}
	if strings.Contains(input.APIKey, wooCredentialSeparator) {
		return nil, &model.AuthError{
			Reason: model.AuthReasonInvalidCredentials,
			Detail: "consumer keyに使用できない文字が含まれています",
		}
	}

	return &Credential{
		AccessToken: input.APIKey + wooCredentialSeparator + input.APISecret,
		ShopDomain:  input.ShopDomain,
	}, nil
}

// Refresh はWooCommerceではノーオペレーション。キーに期限はない。
func (c *WooCommerceConnector) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	return cred, nil
}

// wooStoreIndexResponse はWordPress REST APIルートのレスポンス。
type wooStoreIndexResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// FetchAccountInfo は店舗情報を取得する。
// WooCommerceにはアカウントIDの概念がないため、店舗ドメインを外部IDとする。
func (c *WooCommerceConnector) FetchAccountInfo(ctx context.Context, cred *Credential) (*AccountInfo, error) {
	endpoint := c.baseURL(cred.ShopDomain) + "/wp-json"
	var indexResp wooStoreIndexResponse
	if err := c.getJSON(ctx, cred, endpoint, &indexResp); err != nil {
		return nil, err
	}
	return &AccountInfo{
		ExternalAccountID: cred.ShopDomain,
		Name:              indexResp.Name,
	}, nil
}

// wooProduct は商品一覧エンドポイントの1商品。
type wooProduct struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// FetchProducts は商品一覧の1ページを取得する。
// WooCommerceのページ番号は1始まりのため、0始まりのページを変換して渡す。
func (c *WooCommerceConnector) FetchProducts(ctx context.Context, cred *Credential, page, pageSize int) (*ProductPage, error) {
	endpoint := fmt.Sprintf("%s/wp-json/wc/v3/products?page=%d&per_page=%d",
		c.baseURL(cred.ShopDomain), page+1, pageSize)

	var wooProducts []wooProduct
	if err := c.getJSON(ctx, cred, endpoint, &wooProducts); err != nil {
		return nil, err
	}

	products := make([]Product, 0, len(wooProducts))
	for _, p := range wooProducts {
		if p.Price == "" {
			// 価格未設定の商品は観測対象外
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			c.logger.Warn("WooCommerce商品の価格を解釈できませんでした",
				slog.Int64("product_id", p.ID),
				slog.String("price", p.Price),
			)
			continue
		}
		products = append(products, Product{
			PlatformProductID: fmt.Sprintf("%d", p.ID),
			Title:             p.Name,
			Price:             price,
		})
	}

	return &ProductPage{
		Products: products,
		NextPage: page + 1,
		HasMore:  len(wooProducts) == pageSize,
	}, nil
}

// getJSON はBasic認証付きでGETし、JSONレスポンスをデコードする。
func (c *WooCommerceConnector) getJSON(ctx context.Context, cred *Credential, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	key, secret := splitWooCredential(cred.AccessToken)
	req.SetBasicAuth(key, secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &model.ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyResponse(resp, endpoint)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.ParseError{
			Reason: model.ParseReasonMalformedResponse,
			Detail: err.Error(),
		}
	}
	return nil
}

// splitWooCredential は結合済みキーをconsumer keyとconsumer secretに分解する。
func splitWooCredential(combined string) (key, secret string) {
	parts := strings.SplitN(combined, wooCredentialSeparator, 2)
	if len(parts) != 2 {
		return combined, ""
	}
	return parts[0], parts[1]
}

// baseURL は店舗ドメインからAPIベースURLを組み立てる。
func (c *WooCommerceConnector) baseURL(shopDomain string) string {
	if c.config.BaseURL != "" {
		return c.config.BaseURL
	}
	return "https://" + shopDomain
}

// compile-time interface check
var _ Connector = (*WooCommerceConnector)(nil)
