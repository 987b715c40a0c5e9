package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(t *testing.T, allowed, method, origin string) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	called := false
	handler := NewCORSMiddleware(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(method, "/api/trackActivity", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called
}

func TestCORSMiddleware_AllowedOrigin_EchoesOrigin(t *testing.T) {
	w, called := corsRequest(t, "http://localhost:3000", http.MethodPost, "http://localhost:3000")

	if !called {
		t.Fatal("next handler should be called for POST request")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:3000")
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}

func TestCORSMiddleware_MultipleOrigins(t *testing.T) {
	allowed := " https://portal.example.org/, https://Staging.example.org ,,"

	for _, origin := range []string{"https://portal.example.org", "https://staging.example.org"} {
		w, _ := corsRequest(t, allowed, http.MethodGet, origin)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Errorf("origin %s: Access-Control-Allow-Origin = %q", origin, got)
		}
	}
}

func TestCORSMiddleware_DisallowedOrigin_NoHeaders(t *testing.T) {
	w, called := corsRequest(t, "https://portal.example.org", http.MethodPost, "https://evil.example.com")

	if !called {
		t.Error("non-preflight requests are still served; the browser enforces CORS")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_NoOrigin_PassesThrough(t *testing.T) {
	w, called := corsRequest(t, "https://portal.example.org", http.MethodGet, "")

	if !called || w.Code != http.StatusOK {
		t.Errorf("called = %v, status = %d", called, w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	w, called := corsRequest(t, "http://localhost:3000", http.MethodOptions, "http://localhost:3000")

	if called {
		t.Error("next handler should not be called for OPTIONS preflight")
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}

	tests := []struct {
		header string
		want   string
	}{
		{"Access-Control-Allow-Origin", "http://localhost:3000"},
		{"Access-Control-Allow-Methods", "GET, POST, OPTIONS"},
		{"Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id"},
		{"Access-Control-Max-Age", "86400"},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestCORSMiddleware_PreflightFromDisallowedOrigin_Forbidden(t *testing.T) {
	w, called := corsRequest(t, "http://localhost:3000", http.MethodOptions, "https://evil.example.com")

	if called {
		t.Error("next handler should not be called for OPTIONS preflight")
	}
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "" {
		t.Errorf("Access-Control-Allow-Methods = %q, want empty", got)
	}
}
