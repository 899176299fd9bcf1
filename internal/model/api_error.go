package model

import "fmt"

// APIErrorのエラーコード。
const (
	// ErrCodeInvalidURL はURL形式の不正を示す。
	ErrCodeInvalidURL = "INVALID_URL"
	// ErrCodeSSRFBlocked はSSRF検証による拒否を示す。
	ErrCodeSSRFBlocked = "SSRF_BLOCKED"
	// ErrCodeInvalidTarget は競合リンクの参照先指定の不正を示す。
	ErrCodeInvalidTarget = "INVALID_TARGET"
	// ErrCodeInvalidPlatform は未対応のプラットフォーム指定を示す。
	ErrCodeInvalidPlatform = "INVALID_PLATFORM"
	// ErrCodeLinkNotFound は競合リンクが存在しないことを示す。
	ErrCodeLinkNotFound = "LINK_NOT_FOUND"
	// ErrCodeStoreNotFound はストアが存在しないことを示す。
	ErrCodeStoreNotFound = "STORE_NOT_FOUND"
)

// APIError はAPIレスポンスとして返すエラー情報。
// 原因カテゴリとユーザーへの対処方法を含む。
type APIError struct {
	Code     string
	Message  string
	Category string // validation | auth | not_found | rate_limit | system
	Action   string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidURLError はURL不正のAPIErrorを生成する。
func NewInvalidURLError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("URLが不正です: %s", detail),
		Category: "validation",
		Action:   "http/httpsのURLを指定してください。",
	}
}

// NewSSRFBlockedError はSSRF検証による拒否のAPIErrorを生成する。
func NewSSRFBlockedError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  fmt.Sprintf("このURLへのアクセスは許可されていません: %s", detail),
		Category: "validation",
		Action:   "公開された外部サイトのURLを指定してください。",
	}
}

// NewLinkNotFoundError は競合リンク不在のAPIErrorを生成する。
func NewLinkNotFoundError(linkID string) *APIError {
	return &APIError{
		Code:     ErrCodeLinkNotFound,
		Message:  fmt.Sprintf("競合リンクが見つかりません: %s", linkID),
		Category: "not_found",
		Action:   "競合リンクIDを確認してください。",
	}
}

// NewStoreNotFoundError はストア不在のAPIErrorを生成する。
func NewStoreNotFoundError(storeID string) *APIError {
	return &APIError{
		Code:     ErrCodeStoreNotFound,
		Message:  fmt.Sprintf("ストアが見つかりません: %s", storeID),
		Category: "not_found",
		Action:   "ストアIDを確認してください。",
	}
}
