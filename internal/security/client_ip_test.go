package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHeaderClientIP_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name: "接続元IPヘッダーが最優先",
			headers: map[string]string{
				"X-Nf-Client-Connection-Ip": "198.51.100.1",
				"X-Forwarded-For":           "203.0.113.7, 10.0.0.1",
				"X-Real-Ip":                 "192.0.2.5",
			},
			want: "198.51.100.1",
		},
		{
			name: "X-Forwarded-Forは先頭ホップ",
			headers: map[string]string{
				"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1",
				"X-Real-Ip":       "192.0.2.5",
			},
			want: "203.0.113.7",
		},
		{
			name: "X-Real-Ip",
			headers: map[string]string{
				"X-Real-Ip":   "192.0.2.5",
				"X-Client-Ip": "192.0.2.9",
			},
			want: "192.0.2.5",
		},
		{
			name:    "X-Client-Ip",
			headers: map[string]string{"X-Client-Ip": "192.0.2.9"},
			want:    "192.0.2.9",
		},
		{
			name:    "先頭ホップが空なら次のヘッダー",
			headers: map[string]string{"X-Forwarded-For": ", 10.0.0.1", "X-Real-Ip": "192.0.2.5"},
			want:    "192.0.2.5",
		},
		{
			name:    "ヘッダーなし",
			headers: map[string]string{},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := HeaderClientIP(h); got != tt.want {
				t.Errorf("HeaderClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.50:54321"

	if got := ClientIP(req); got != "203.0.113.50" {
		t.Errorf("ClientIP() = %q, want %q", got, "203.0.113.50")
	}

	req.Header.Set("X-Real-Ip", "192.0.2.5")
	if got := ClientIP(req); got != "192.0.2.5" {
		t.Errorf("ClientIP() = %q, want %q", got, "192.0.2.5")
	}
}
