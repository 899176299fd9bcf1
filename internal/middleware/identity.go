// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net/http"
)

// contextKey はコンテキストキーの衝突を避けるための専用型。
type contextKey string

// userIDContextKey はリクエストコンテキスト上のユーザーIDのキー。
const userIDContextKey contextKey = "user_id"

// ErrNoUserID はコンテキストにユーザーIDが存在しないことを示す。
var ErrNoUserID = errors.New("コンテキストにユーザーIDがありません")

// userIDHeader は呼び出し元が自身を識別するヘッダー。
// 認証基盤は上流のゲートウェイが担い、このサービスは識別子のみを信頼する。
const userIDHeader = "X-User-ID"

// NewIdentityMiddleware はリクエストヘッダーからユーザーIDを取り出し、
// コンテキストに格納するミドルウェアを返す。IDがない場合は401を返す。
func NewIdentityMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(userIDHeader)
			if userID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := ContextWithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextWithUserID はユーザーIDを格納したコンテキストを返す。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext はコンテキストからユーザーIDを取り出す。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", ErrNoUserID
	}
	return userID, nil
}
