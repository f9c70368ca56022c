// Package notify は監査ログを外部のWebhookへ転送する。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/security"
)

// DefaultTimeout は送信のデフォルトタイムアウト。
const DefaultTimeout = 5 * time.Second

// WebhookSink は監査ログをJSONでPOSTするaudit.Sinkの実装。
// 429/5xxと通信エラーは指数バックオフで再送する。
// 最終的な送信失敗は呼び出し元の監査ログ記録器がログに残す。
type WebhookSink struct {
	url         string
	client      *http.Client
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewWebhookSink は送信先URLを検証してWebhookSinkを生成する。
func NewWebhookSink(rawURL string, timeout time.Duration, guard security.EgressGuard) (*WebhookSink, error) {
	if err := guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookSink{
		url:         rawURL,
		client:      guard.NewSafeClient(timeout),
		maxAttempts: DefaultMaxAttempts,
		sleep:       sleepContext,
	}, nil
}

type webhookPayload struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actorId"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Write は1件の監査ログを送信する。
// 2xx以外の応答はエラーとし、再送可能な失敗はmaxAttempts回まで送信を試みる。
func (s *WebhookSink) Write(ctx context.Context, record *model.AuditRecord) error {
	body, err := json.Marshal(webhookPayload{
		ID:        record.ID,
		Action:    record.Action,
		ActorID:   record.ActorID,
		Timestamp: record.Timestamp,
		Details:   record.Details,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, calculateBackoff(attempt-1)); err != nil {
				return fmt.Errorf("webhook retry aborted: %w", lastErr)
			}
		}

		status, err := s.send(ctx, record.Action, body)
		if err != nil {
			lastErr = err
		} else {
			switch classifyStatus(status) {
			case deliveryOK:
				return nil
			case deliveryDrop:
				return fmt.Errorf("webhook returned status %d", status)
			}
			lastErr = fmt.Errorf("webhook returned status %d", status)
		}
		slog.Debug("webhook delivery failed",
			slog.String("record_id", record.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", s.maxAttempts, lastErr)
}

// send は1回分のPOSTを行い、応答ステータスを返す。
func (s *WebhookSink) send(ctx context.Context, action string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "perkledger-webhook/1.0")
	req.Header.Set("X-Perkledger-Event", action)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}
