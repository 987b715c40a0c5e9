package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名。
const RequestIDHeader = "X-Request-Id"

const requestIDContextKey = contextKey("request_id")

const maxRequestIDLength = 64

// requestIDFrom は受信ヘッダーのIDが安全な文字だけで構成されていれば採用し、そうでなければ新規に採番する。
func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); isSafeRequestID(id) {
		return id
	}
	return uuid.NewString()
}

func isSafeRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// RequestIDFromContext はコンテキストのリクエストIDを返す。未設定なら空文字。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}
