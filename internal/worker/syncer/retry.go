package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/pricewatch/internal/model"
)

// maxBackoff は1回の待機の上限。Retry-Afterが極端に大きい場合の保護。
const maxBackoff = time.Minute

// CalculateBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
// 初回base、2倍ずつ増加、最大maxBackoff。
func CalculateBackoff(attempt int, base time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// retryTransient はfnを実行し、一時的な失敗のみ指数バックオフ付きで再試行する。
// 再試行の対象: 接続失敗、レート制限、5xx。認証失敗・解析失敗・その他4xxは
// 即座に返す。コンテキストがキャンセルされた場合、実行中の試行は完了させるが
// 新しい再試行は開始しない。
func retryTransient(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !model.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := CalculateBackoff(attempt, baseDelay)
		// 上流がRetry-Afterを返した場合はそちらを優先する
		var rateErr *model.RateLimitError
		if errors.As(lastErr, &rateErr) && rateErr.RetryAfter > delay {
			delay = rateErr.RetryAfter
			if delay > maxBackoff {
				delay = maxBackoff
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}
