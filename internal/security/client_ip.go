package security

import (
	"net"
	"net/http"
	"strings"
)

// clientIPHeaders はクライアントIPを読み取るヘッダーの優先順。
// X-Nf-Client-Connection-Ipはエッジプロキシが付与する接続元IP。
var clientIPHeaders = []string{
	"X-Nf-Client-Connection-Ip",
	"X-Forwarded-For",
	"X-Real-Ip",
	"X-Client-Ip",
}

// HeaderClientIP はプロキシヘッダーからクライアントIPを取り出す。
// X-Forwarded-Forは先頭のホップのみを採用する。いずれのヘッダーもなければ空文字列を返す。
func HeaderClientIP(h http.Header) string {
	for _, name := range clientIPHeaders {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		if name == "X-Forwarded-For" {
			v = strings.TrimSpace(strings.Split(v, ",")[0])
			if v == "" {
				continue
			}
		}
		return v
	}
	return ""
}

// ClientIP はリクエストのクライアントIPを返す。
// ヘッダーから取得できない場合はRemoteAddrのホスト部分を使う。
func ClientIP(r *http.Request) string {
	if ip := HeaderClientIP(r.Header); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
