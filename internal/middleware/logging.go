package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/metrics"
)

// HeaderRequestID はリクエストIDのヘッダー。
const HeaderRequestID = "X-Request-Id"

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id、caller_id（識別済みの場合）を含む。
// ステータスコードとルートごとのレイテンシをメトリクスに記録する。
func NewLoggingMiddleware(logger *slog.Logger, m metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if m == nil {
		m = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			// 識別ミドルウェアは内側で実行されるため、格納先を先に用意しておく
			holder := &callerHolder{}
			next.ServeHTTP(rec, r.WithContext(withCallerHolder(r.Context(), holder)))

			duration := time.Since(start)
			m.RecordHTTPStatus(rec.statusCode)
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					m.RecordOperationLatency(r.Method+" "+pattern, duration)
				}
			}

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", float64(duration.Nanoseconds())/float64(time.Millisecond)),
				slog.String("request_id", requestID),
			}
			if holder.callerID != "" {
				args = append(args, slog.String("caller_id", holder.callerID))
			} else if caller, ok := identity.CallerFrom(r.Context()); ok {
				args = append(args, slog.String("caller_id", caller.ID))
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}

// callerHolder は内側のミドルウェアで識別された呼び出し元IDを受け取る。
type callerHolder struct {
	callerID string
}

type callerHolderKey struct{}

func withCallerHolder(ctx context.Context, h *callerHolder) context.Context {
	return context.WithValue(ctx, callerHolderKey{}, h)
}

func recordCaller(ctx context.Context, callerID string) {
	if h, ok := ctx.Value(callerHolderKey{}).(*callerHolder); ok {
		h.callerID = callerID
	}
}
