package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由入力のテキストからHTMLを除去する。
// 監査ログの理由やユーザー名予約のメタデータなど、プレーンテキストとして
// 保存する値に使用する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はすべてのタグを除去するTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、前後の空白を取り除いた文字列を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// SanitizeMap はキーと値の両方をサニタイズしたコピーを返す。
// サニタイズ後にキーが空になった要素は除外する。
func (s *TextSanitizer) SanitizeMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := s.Sanitize(k)
		if key == "" {
			continue
		}
		out[key] = s.Sanitize(v)
	}
	return out
}
