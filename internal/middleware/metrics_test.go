package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStatusRecorder struct {
	codes []int
}

func (f *fakeStatusRecorder) RecordHTTPStatus(statusCode int) {
	f.codes = append(f.codes, statusCode)
}

func TestMetricsMiddleware_RecordsStatusCode(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{
			name:    "implicit 200",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) },
			want:    http.StatusOK,
		},
		{
			name:    "explicit 404",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			want:    http.StatusNotFound,
		},
		{
			name: "error response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				WriteInternalServerError(w)
			},
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeStatusRecorder{}
			handler := NewMetricsMiddleware(rec)(tt.handler)

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/trackActivity", nil))

			if len(rec.codes) != 1 {
				t.Fatalf("recorded %d codes, want 1", len(rec.codes))
			}
			if rec.codes[0] != tt.want {
				t.Errorf("code = %d, want %d", rec.codes[0], tt.want)
			}
		})
	}
}
