package model

import "time"

// OAuthState は認可フローのCSRF対策に使うstateノンスを表す。
// コールバック検証時に消費（削除）され、期限切れ分はクリーンアップジョブが
// 定期削除する。
type OAuthState struct {
	State     string
	Platform  Platform
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はノンスが期限切れかを返す。
func (s *OAuthState) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}
