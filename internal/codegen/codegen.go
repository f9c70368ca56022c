// Package codegen はバウチャーコードとパスコードの生成を提供する。
package codegen

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Alphabet は読み間違えやすい0/1/I/Oを除いた32文字。
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// DefaultLength はコードのデフォルト長。
const DefaultLength = 6

// DefaultAttempts は衝突時に再生成する最大回数。
const DefaultAttempts = 5

// Generate はAlphabetからlength文字のランダムなコードを生成する。
// len(Alphabet)が256の約数のため剰余による偏りはない。
func Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}

// Fallback は再生成の上限に達した場合に使うタイムスタンプ由来のコードを返す。
// "FD" + UNIXミリ秒の36進数表記（大文字）。
func Fallback(now time.Time) string {
	return "FD" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
}
