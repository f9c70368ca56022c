package notify

import (
	"context"
	"net/http"
	"time"
)

// deliveryResult はWebhookの応答ステータスの分類。
type deliveryResult int

const (
	// deliveryOK は受信成功（2xx）。
	deliveryOK deliveryResult = iota
	// deliveryRetry は再送で回復しうる失敗（429/5xx）。
	deliveryRetry
	// deliveryDrop は再送しても回復しない失敗（その他の4xxなど）。
	deliveryDrop
)

const (
	// DefaultMaxAttempts は1件あたりの最大送信回数。
	DefaultMaxAttempts = 3
	// initialBackoff は再送の初回待ち時間。
	initialBackoff = 100 * time.Millisecond
	// maxBackoff は再送の最大待ち時間。
	maxBackoff = time.Second
)

// classifyStatus はHTTPステータスコードを送信結果に分類する。
func classifyStatus(statusCode int) deliveryResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return deliveryOK
	case statusCode == http.StatusTooManyRequests:
		return deliveryRetry
	case statusCode >= 500:
		return deliveryRetry
	default:
		return deliveryDrop
	}
}

// calculateBackoff は失敗回数に基づく指数バックオフの待ち時間を返す。
// 初回100ms、2倍ずつ増加、最大1秒。
func calculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// sleepContext はdだけ待機する。ctxが先に終了した場合はそのエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
