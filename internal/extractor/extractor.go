// Package extractor は競合商品ページからの価格抽出を提供する。
// 静的HTMLのフェッチとCSSセレクタによるヒューリスティック抽出のみを行い、
// JavaScriptレンダリングやブラウザ自動化は行わない。
package extractor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html/charset"

	"github.com/hitoshi/pricewatch/internal/model"
)

// ExtractedPrice は1ページからの抽出結果を表す。
// TitleとImageURLはベストエフォートであり、欠落は失敗ではない。
type ExtractedPrice struct {
	Price    decimal.Decimal
	Currency string
	Title    string
	ImageURL string
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// TextSanitizer は抽出テキストのサニタイズのインターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// defaultSelectors は価格を含みやすいセレクタ候補の既定リスト。
// 順序がそのまま優先順位となる。構造化データを最優先し、
// 一般的なクラス名へフォールバックする。
var defaultSelectors = []string{
	`meta[property="og:price:amount"]`,
	`meta[itemprop="price"]`,
	`[itemprop="price"]`,
	`.product-price`,
	`.price--current`,
	`.price-current`,
	`span.price`,
	`.price`,
	`#price`,
	`.amount`,
}

// Config は抽出器の設定。
type Config struct {
	UserAgent        string
	Timeout          time.Duration
	MaxBodySize      int64
	FallbackCurrency string
	Selectors        []string // 空なら既定リストを使用
}

// Extractor は競合商品ページのフェッチと価格抽出を行う。
// (URL, セレクタ, ページ内容) に対して決定的であり、
// アウトバウンドHTTPリクエスト以外の副作用を持たない。
type Extractor struct {
	ssrfGuard SSRFValidator
	sanitizer TextSanitizer
	logger    *slog.Logger
	config    Config
}

// NewExtractor はExtractorの新しいインスタンスを生成する。
func NewExtractor(ssrfGuard SSRFValidator, sanitizer TextSanitizer, logger *slog.Logger, config Config) *Extractor {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 5 * 1024 * 1024
	}
	if config.FallbackCurrency == "" {
		config.FallbackCurrency = "USD"
	}
	if len(config.Selectors) == 0 {
		config.Selectors = defaultSelectors
	}
	return &Extractor{
		ssrfGuard: ssrfGuard,
		sanitizer: sanitizer,
		logger:    logger,
		config:    config,
	}
}

// Extract は指定URLをフェッチし、価格・通貨・タイトル・画像を抽出する。
// selectorが指定された場合は最初にマッチしたノードのテキストのみを使用する。
// 空の場合はセレクタ候補リストを順に試し、最初の非空マッチを採用する。
// 非成功ステータスはFetchError、価格未検出はParseErrorとして返す。
func (e *Extractor) Extract(ctx context.Context, pageURL, selector string) (*ExtractedPrice, error) {
	start := time.Now()

	// SSRF検証
	if err := e.ssrfGuard.ValidateURL(pageURL); err != nil {
		return nil, fmt.Errorf("URL検証に失敗しました: %w", err)
	}

	// HTTPリクエスト構築
	client := e.ssrfGuard.NewSafeClient(e.config.Timeout, e.config.MaxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", e.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	// HTTPリクエスト実行
	resp, err := client.Do(req)
	if err != nil {
		return nil, &model.ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	// 非成功ステータスは価格0ではなくFetchErrorとして返す
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &model.FetchError{Status: resp.StatusCode, URL: pageURL}
	}

	// レスポンスボディを読み込み（最大サイズ制限付き）
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxBodySize))
	if err != nil {
		return nil, &model.ConnectivityError{Err: err}
	}

	// 非UTF-8ページをContent-Typeとメタタグの情報からUTF-8へ変換する
	reader, err := charset.NewReader(strings.NewReader(string(body)), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &model.ParseError{
			Reason: model.ParseReasonMalformedResponse,
			Detail: err.Error(),
		}
	}

	// HTMLパース
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, &model.ParseError{
			Reason: model.ParseReasonMalformedResponse,
			Detail: err.Error(),
		}
	}

	result, err := e.extractFromDocument(doc, selector)
	if err != nil {
		return nil, err
	}

	e.logger.Info("価格を抽出しました",
		slog.String("url", pageURL),
		slog.String("price", result.Price.String()),
		slog.String("currency", result.Currency),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return result, nil
}

// extractFromDocument はパース済みドキュメントから抽出結果を構築する。
func (e *Extractor) extractFromDocument(doc *goquery.Document, selector string) (*ExtractedPrice, error) {
	var priceText string

	if selector != "" {
		// セレクタ上書き: 最初のマッチのみを使用
		priceText = candidateText(doc.Find(selector).First())
	} else {
		// ヒューリスティック: 候補リストを順に試し最初の非空マッチを採用
		for _, sel := range e.config.Selectors {
			if text := candidateText(doc.Find(sel).First()); text != "" {
				priceText = text
				break
			}
		}
	}

	if priceText == "" {
		return nil, &model.ParseError{
			Reason: model.ParseReasonNoPriceFound,
			Detail: "価格セレクタにマッチしませんでした",
		}
	}

	price, err := ParsePrice(priceText)
	if err != nil {
		return nil, err
	}

	return &ExtractedPrice{
		Price:    price,
		Currency: e.detectCurrency(doc, priceText),
		Title:    e.extractTitle(doc),
		ImageURL: extractImage(doc),
	}, nil
}

// candidateText はマッチしたノードから価格テキストを取り出す。
// metaタグはcontent属性、それ以外はテキストノードを使用する。
func candidateText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if goquery.NodeName(sel) == "meta" {
		content, _ := sel.Attr("content")
		return strings.TrimSpace(content)
	}
	// [itemprop=price]はcontent属性を持つ場合がある（microdata）
	if content, ok := sel.Attr("content"); ok && strings.TrimSpace(content) != "" {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(sel.Text())
}

// detectCurrency はページから通貨コードを推定する。
// 構造化データ → 価格テキスト中の記号 → 設定のフォールバックの順。
func (e *Extractor) detectCurrency(doc *goquery.Document, priceText string) string {
	if content, ok := doc.Find(`meta[property="og:price:currency"]`).First().Attr("content"); ok {
		if code := strings.TrimSpace(content); code != "" {
			return strings.ToUpper(code)
		}
	}
	if content, ok := doc.Find(`[itemprop="priceCurrency"]`).First().Attr("content"); ok {
		if code := strings.TrimSpace(content); code != "" {
			return strings.ToUpper(code)
		}
	}
	if code := DetectCurrency(priceText); code != "" {
		return code
	}
	return e.config.FallbackCurrency
}

// extractTitle はog:titleまたはtitleタグからページタイトルを取得する。
// サニタイズ済みのプレーンテキストを返す。欠落は失敗ではない。
func (e *Extractor) extractTitle(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if title := strings.TrimSpace(content); title != "" {
			return e.sanitizer.Sanitize(title)
		}
	}
	return e.sanitizer.Sanitize(doc.Find("title").First().Text())
}

// extractImage はOpen Graphの代表画像URLを取得する。欠落は失敗ではない。
func extractImage(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return ""
}
