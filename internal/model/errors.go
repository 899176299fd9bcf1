package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind は取り込み経路の失敗分類を表す。
// リトライ判定と実行サマリの報告に使用する。
type ErrorKind string

const (
	// ErrorKindFetch はHTTPの非成功ステータスによる失敗。
	ErrorKindFetch ErrorKind = "fetch"
	// ErrorKindParse はレスポンス解析の失敗。
	ErrorKindParse ErrorKind = "parse"
	// ErrorKindAuth は認証・認可の失敗。
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindRateLimit は上流のレート制限による失敗。
	ErrorKindRateLimit ErrorKind = "rate_limit"
	// ErrorKindConnectivity は接続・タイムアウトによる失敗。
	ErrorKindConnectivity ErrorKind = "connectivity"
	// ErrorKindUnknown は分類不能な失敗。
	ErrorKindUnknown ErrorKind = "unknown"
)

// FetchError はHTTPの非成功ステータスによる失敗を表す。
// Bodyには上流のエラーボディ（先頭部分）を保持し、診断に使う。
// 価格0の捏造を防ぐため、抽出失敗は必ずこの型かParseErrorとして返す。
type FetchError struct {
	Status int
	URL    string
	Body   string
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("フェッチに失敗しました: status=%d url=%s body=%s", e.Status, e.URL, e.Body)
	}
	return fmt.Sprintf("フェッチに失敗しました: status=%d url=%s", e.Status, e.URL)
}

// ParseErrorの理由コード。
const (
	// ParseReasonNoPriceFound はページから価格を検出できなかったことを示す。
	ParseReasonNoPriceFound = "no_price_found"
	// ParseReasonMalformedResponse はレスポンスボディの解析失敗を示す。
	ParseReasonMalformedResponse = "malformed_response"
)

// ParseError はレスポンス解析の失敗を表す。リトライ対象外。
type ParseError struct {
	Reason string // no_price_found | malformed_response
	Detail string
}

// Error はerrorインターフェースを実装する。
func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("解析に失敗しました: %s", e.Reason)
	}
	return fmt.Sprintf("解析に失敗しました: %s: %s", e.Reason, e.Detail)
}

// AuthErrorの理由コード。
const (
	// AuthReasonInvalidCredentials は資格情報の不正を示す。
	AuthReasonInvalidCredentials = "invalid_credentials"
	// AuthReasonExpired はトークンの期限切れを示す。
	AuthReasonExpired = "expired"
	// AuthReasonRevoked は外部での失効を示す。
	AuthReasonRevoked = "revoked"
)

// AuthError は認証・認可の失敗を表す。リトライ対象外。
type AuthError struct {
	Reason string // invalid_credentials | expired | revoked
	Detail string
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("認証に失敗しました: %s", e.Reason)
	}
	return fmt.Sprintf("認証に失敗しました: %s: %s", e.Reason, e.Detail)
}

// RateLimitError は上流APIのレート制限を表す。
// RetryAfterが0の場合は上流がRetry-Afterを返さなかったことを示す。
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error はerrorインターフェースを実装する。
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("レート制限を受けました: retry_after=%s", e.RetryAfter)
	}
	return "レート制限を受けました"
}

// ConnectivityError は接続失敗・タイムアウトを表す。
type ConnectivityError struct {
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("接続に失敗しました: %v", e.Err)
}

// Unwrap は原因エラーを返す。
func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ErrNeedsReauth はストアが再認可待ちであり同期を短絡すべきことを示す。
var ErrNeedsReauth = errors.New("ストアは再認可待ちです")

// ClassifyError はエラーを失敗分類にマッピングする。
func ClassifyError(err error) ErrorKind {
	var fetchErr *FetchError
	var parseErr *ParseError
	var authErr *AuthError
	var rateErr *RateLimitError
	var connErr *ConnectivityError

	switch {
	case errors.As(err, &rateErr):
		return ErrorKindRateLimit
	case errors.As(err, &authErr):
		return ErrorKindAuth
	case errors.As(err, &parseErr):
		return ErrorKindParse
	case errors.As(err, &connErr):
		return ErrorKindConnectivity
	case errors.As(err, &fetchErr):
		return ErrorKindFetch
	default:
		return ErrorKindUnknown
	}
}

// IsTransient は指数バックオフ付きリトライの対象となる失敗かを返す。
// 対象: 接続失敗、レート制限、5xxステータス。
// 対象外: 認証失敗、レート制限以外の4xx、解析失敗。
func IsTransient(err error) bool {
	var fetchErr *FetchError
	var rateErr *RateLimitError
	var connErr *ConnectivityError

	switch {
	case errors.As(err, &connErr):
		return true
	case errors.As(err, &rateErr):
		return true
	case errors.As(err, &fetchErr):
		return fetchErr.Status >= 500
	default:
		return false
	}
}
