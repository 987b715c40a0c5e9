package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/memberportal/internal/identity"
	"github.com/hitoshi/memberportal/internal/login"
	"github.com/hitoshi/memberportal/internal/metrics"
	"github.com/hitoshi/memberportal/internal/middleware"
	"github.com/hitoshi/memberportal/internal/model"
)

const testJWTSecret = "super-secret-jwt-token-with-at-least-32-characters"

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// fakeEventStore / fakeUserTouch は実際のlogin.Recorderをルーター経由で動かすためのフェイク。
type fakeEventStore struct {
	events []*model.LoginEvent
}

func (f *fakeEventStore) Create(ctx context.Context, event *model.LoginEvent) error {
	event.ID = "login-from-store"
	f.events = append(f.events, event)
	return nil
}

type fakeUserTouch struct{}

func (fakeUserTouch) UpdateLoginTimestamps(ctx context.Context, id, email string, at time.Time) (bool, error) {
	return true, nil
}

func newTestDeps(t *testing.T) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		HealthChecker:     &mockHealthChecker{},
		LoginService:      &mockLoginService{},
		ActivityService:   &mockActivityService{},
		DisclaimerService: &mockDisclaimerService{},
		ProvisionService:  &mockProvisionService{},
	}
}

func serve(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_FunctionEndpointsOnBothPrefixes(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/trackLogin", `{"user_id":"u","email":"e@example.org"}`},
		{http.MethodPost, "/trackActivity", `{"user_id":"u","email":"e@example.org"}`},
		{http.MethodGet, "/disclaimerAcceptance?email=e%40example.org", ""},
		{http.MethodPost, "/disclaimerAcceptance", `{"email":"e@example.org"}`},
	}

	for _, prefix := range []string{"/api", "/.netlify/functions"} {
		for _, tt := range tests {
			t.Run(tt.method+" "+prefix+tt.path, func(t *testing.T) {
				w := serve(router, tt.method, prefix+tt.path, tt.body, nil)
				if w.Code != http.StatusOK {
					t.Errorf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
				}
			})
		}
	}
}

func TestRouter_WrongMethodReturnsJSON405(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/trackLogin"},
		{http.MethodPut, "/api/trackActivity"},
		{http.MethodDelete, "/api/disclaimerAcceptance"},
		{http.MethodGet, "/.netlify/functions/provision"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(router, tt.method, tt.path, "", nil)
			if w.Code != http.StatusMethodNotAllowed {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
			}
			var body middleware.ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != model.ErrCodeMethodNotAllowed {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeMethodNotAllowed)
			}
			if !strings.Contains(body.Error, tt.method) {
				t.Errorf("error = %q, should mention %s", body.Error, tt.method)
			}
		})
	}
}

func TestRouter_UnknownPathReturnsJSON404(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	w := serve(router, http.MethodGet, "/api/events", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestRouter_PreflightGets204(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	w := serve(router, http.MethodOptions, "/api/trackLogin", "", map[string]string{"Origin": "http://localhost:3000"})
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestRouter_Health(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	w := serve(router, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	deps = newTestDeps(t)
	deps.HealthChecker = &mockHealthChecker{err: errors.New("connection refused")}
	router = NewRouter(deps)

	w = serve(router, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_MetricsRecordsStatusCodes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	deps := newTestDeps(t)
	deps.StatusRecorder = collector
	deps.MetricsGatherer = reg
	router := NewRouter(deps)

	serve(router, http.MethodGet, "/api/trackLogin", "", nil)

	w := serve(router, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `memberportal_http_status_total{status_code="405"} 1`) {
		t.Errorf("metrics output does not contain the 405 counter:\n%s", w.Body.String())
	}
}

func TestRouter_BearerAuthProtectsTrackingButNotProvision(t *testing.T) {
	deps := newTestDeps(t)
	deps.TokenVerifier = identity.NewVerifier(testJWTSecret)
	router := NewRouter(deps)

	w := serve(router, http.MethodPost, "/api/trackActivity", `{"user_id":"u","email":"e@example.org"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("trackActivity without token: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	claims := identity.Claims{
		Email: "e@example.org",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u",
			Audience:  jwt.ClaimStrings{identity.DefaultAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	w = serve(router, http.MethodPost, "/api/trackActivity", `{}`, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Errorf("trackActivity with token: status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
	}

	w = serve(router, http.MethodPost, "/api/provision", `{"email":"new@example.org"}`, nil)
	if w.Code != http.StatusCreated {
		t.Errorf("provision without token: status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestRouter_TrackLoginWithRecorder(t *testing.T) {
	store := &fakeEventStore{}
	deps := newTestDeps(t)
	deps.LoginService = login.NewRecorder(store, fakeUserTouch{}, nil,
		login.WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
	)
	router := NewRouter(deps)

	// emailが欠けている場合は400
	w := serve(router, http.MethodPost, "/api/trackLogin", `{"user_id":"u"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing email: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if len(store.events) != 0 {
		t.Fatalf("no event should be stored, got %d", len(store.events))
	}

	// クライアントがIPを送らない場合はプロキシヘッダーから導出する
	w = serve(router, http.MethodPost, "/api/trackLogin",
		`{"user_id":"u","email":"Member@Example.org","login_method":"otp"}`,
		map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
	)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
	}

	var resp trackLoginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.ID != "login-from-store" || resp.IPAddress != "203.0.113.7" {
		t.Errorf("response = %+v", resp)
	}
	if len(store.events) != 1 {
		t.Fatalf("stored events = %d, want 1", len(store.events))
	}
	if store.events[0].Geo.Country != model.Unknown {
		t.Errorf("geo should default to Unknown without a resolver, got %q", store.events[0].Geo.Country)
	}
}

func TestRouter_PanicReturnsJSON500(t *testing.T) {
	deps := newTestDeps(t)
	deps.ActivityService = &mockActivityService{
		touchFn: func(ctx context.Context, userID, email string, at time.Time) error {
			panic("unexpected")
		},
	}
	router := NewRouter(deps)

	w := serve(router, http.MethodPost, "/api/trackActivity", `{"user_id":"u","email":"e@example.org"}`, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error == "" {
		t.Error("error field should not be empty")
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewInvalidRequestError(), http.StatusBadRequest},
		{model.NewMissingFieldsError("email"), http.StatusBadRequest},
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewEmailDomainNotAllowedError("x.com"), http.StatusForbidden},
		{model.NewUserNotFoundError(), http.StatusNotFound},
		{model.NewNotFoundError(), http.StatusNotFound},
		{model.NewMethodNotAllowedError("PUT"), http.StatusMethodNotAllowed},
		{model.NewRateLimitError(), http.StatusTooManyRequests},
		{model.NewInternalError(), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRouter_ErrorBodyCarriesRequestID(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	w := serve(router, http.MethodGet, "/api/events", "", map[string]string{middleware.RequestIDHeader: "trace-1"})

	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.RequestID != "trace-1" {
		t.Errorf("requestId = %q, want trace-1", body.RequestID)
	}
	if got := w.Header().Get(middleware.RequestIDHeader); got != "trace-1" {
		t.Errorf("%s = %q, want trace-1", middleware.RequestIDHeader, got)
	}
}
