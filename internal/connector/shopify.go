package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/pricewatch/internal/model"
)

// shopifyAPIVersion は使用するShopify Admin APIのバージョン。
const shopifyAPIVersion = "2024-01"

// ShopifyConfig はShopifyコネクタの設定。
type ShopifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// BaseURL はテスト用に店舗ドメイン由来のURLを差し替える。
	// 空の場合は https://{shop_domain} を使用する。
	BaseURL string
}

// ShopifyConnector はShopify Admin APIのコネクタ。
// OAuth認可コードグラントで接続し、リフレッシュトークンで資格情報を更新する。
type ShopifyConnector struct {
	config     ShopifyConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewShopifyConnector はShopifyConnectorを生成する。
func NewShopifyConnector(config ShopifyConfig, httpClient *http.Client, logger *slog.Logger) *ShopifyConnector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ShopifyConnector{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Platform はこのコネクタが扱うプラットフォームを返す。
func (c *ShopifyConnector) Platform() model.Platform {
	return model.PlatformShopify
}

// LoginURL は認可フローの開始URLを生成する。
func (c *ShopifyConnector) LoginURL(shopDomain, state string) string {
	params := url.Values{
		"client_id":    {c.config.ClientID},
		"redirect_uri": {c.config.RedirectURL},
		"scope":        {"read_products"},
		"state":        {state},
	}
	return c.baseURL(shopDomain) + "/admin/oauth/authorize?" + params.Encode()
}

// shopifyTokenResponse はShopifyのトークンエンドポイントのレスポンス。
type shopifyTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Authenticate は認可コードをアクセストークンに交換する。
func (c *ShopifyConnector) Authenticate(ctx context.Context, input AuthInput) (*Credential, error) {
	if input.Code == "" {
		return nil, &model.AuthError{
			Reason: model.AuthReasonInvalidCredentials,
			Detail: "認可コードがありません",
		}
	}

	data := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"code":          {input.Code},
	}
	tokenResp, err := c.requestToken(ctx, input.ShopDomain, data)
	if err != nil {
		return nil, err
	}

	return c.credentialFrom(tokenResp, input.ShopDomain), nil
}

// Refresh はリフレッシュトークンで資格情報を更新する。
// 新しいリフレッシュトークンが返されない場合は既存のものを引き継ぐ。
func (c *ShopifyConnector) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	if cred.RefreshToken == "" {
		return nil, &model.AuthError{
			Reason: model.AuthReasonExpired,
			Detail: "リフレッシュトークンがありません",
		}
	}

	data := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
	}
	tokenResp, err := c.requestToken(ctx, cred.ShopDomain, data)
	if err != nil {
		return nil, err
	}

	refreshed := c.credentialFrom(tokenResp, cred.ShopDomain)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	return refreshed, nil
}

// requestToken はトークンエンドポイントを呼び出しレスポンスを解釈する。
func (c *ShopifyConnector) requestToken(ctx context.Context, shopDomain string, data url.Values) (*shopifyTokenResponse, error) {
	endpoint := c.baseURL(shopDomain) + "/admin/oauth/access_token"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("トークンリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &model.ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := classifyResponse(resp, endpoint)
		c.logger.Error("Shopifyトークンエンドポイントがエラーを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var tokenResp shopifyTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, &model.ParseError{
			Reason: model.ParseReasonMalformedResponse,
			Detail: err.Error(),
		}
	}
	if tokenResp.AccessToken == "" {
		return nil, &model.ParseError{
			Reason: model.ParseReasonMalformedResponse,
			Detail: "アクセストークンが空です",
		}
	}
	return &tokenResp, nil
}

// credentialFrom はトークンレスポンスをCredentialに変換する。
// expires_inが0の場合は無期限トークンとして扱う。
func (c *ShopifyConnector) credentialFrom(resp *shopifyTokenResponse, shopDomain string) *Credential {
	cred := &Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ShopDomain:   shopDomain,
	}
	if resp.ExpiresIn > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return cred
}

// shopifyShopResponse はショップ情報エンドポイントのレスポンス。
type shopifyShopResponse struct {
	Shop struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Currency string `json:"currency"`
	} `json:"shop"`
}

// FetchAccountInfo はショップ情報を取得する。
// ショップIDがストアUPSERTの自然キーの一部になる。
func (c *ShopifyConnector) FetchAccountInfo(ctx context.Context, cred *Credential) (*AccountInfo, error) {
	var shopResp shopifyShopResponse
	endpoint := fmt.Sprintf("%s/admin/api/%s/shop.json", c.baseURL(cred.ShopDomain), shopifyAPIVersion)
	if err := c.getJSON(ctx, cred, endpoint, &shopResp); err != nil {
		return nil, err
	}
	if shopResp.Shop.ID == 0 {
		return nil, &model.ParseError{
			Reason: model.ParseReasonMalformedResponse,
			Detail: "ショップIDが空です",
		}
	}
	return &AccountInfo{
		ExternalAccountID: fmt.Sprintf("%d", shopResp.Shop.ID),
		Name:              shopResp.Shop.Name,
	}, nil
}

// shopifyProductsResponse は商品一覧エンドポイントのレスポンス。
type shopifyProductsResponse struct {
	Products []struct {
		ID       int64  `json:"id"`
		Title    string `json:"title"`
		Variants []struct {
			Price string `json:"price"`
		} `json:"variants"`
	} `json:"products"`
}

// FetchProducts は商品一覧の1ページを取得する。
// 価格は先頭バリアントの値を使用する。通貨はレスポンスに含まれないため
// 空のまま返し、呼び出し元のフォールバックに委ねる。
func (c *ShopifyConnector) FetchProducts(ctx context.Context, cred *Credential, page, pageSize int) (*ProductPage, error) {
	endpoint := fmt.Sprintf("%s/admin/api/%s/products.json?limit=%d&page=%d",
		c.baseURL(cred.ShopDomain), shopifyAPIVersion, pageSize, page+1)

	var productsResp shopifyProductsResponse
	if err := c.getJSON(ctx, cred, endpoint, &productsResp); err != nil {
		return nil, err
	}

	products := make([]Product, 0, len(productsResp.Products))
	for _, p := range productsResp.Products {
		if len(p.Variants) == 0 {
			continue
		}
		price, err := decimal.NewFromString(p.Variants[0].Price)
		if err != nil {
			c.logger.Warn("Shopify商品の価格を解釈できませんでした",
				slog.Int64("product_id", p.ID),
				slog.String("price", p.Variants[0].Price),
			)
			continue
		}
		products = append(products, Product{
			PlatformProductID: fmt.Sprintf("%d", p.ID),
			Title:             p.Title,
			Price:             price,
		})
	}

	return &ProductPage{
		Products: products,
		NextPage: page + 1,
		HasMore:  len(productsResp.Products) == pageSize,
	}, nil
}

// getJSON は認証ヘッダ付きでGETし、JSONレスポンスをデコードする。
func (c *ShopifyConnector) getJSON(ctx context.Context, cred *Credential, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", cred.AccessToken)
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

// baseURL は店舗ドメインからAPIベースURLを組み立てる。
func (c *ShopifyConnector) baseURL(shopDomain string) string {
	if c.config.BaseURL != "" {
		return c.config.BaseURL
	}
	return "https://" + shopDomain
}

// compile-time interface check
var _ Connector = (*ShopifyConnector)(nil)
