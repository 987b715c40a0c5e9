package portalclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/memberportal/internal/activity"
	"github.com/hitoshi/memberportal/internal/admission"
	"github.com/hitoshi/memberportal/internal/disclaimer"
	"github.com/hitoshi/memberportal/internal/login"
)

// コンパイル時にClientが各インターフェースを満たすことを確認する
var (
	_ admission.LoginRecorder = (*Client)(nil)
	_ activity.Tracker        = (*Client)(nil)
	_ disclaimer.Checker      = (*Client)(nil)
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.Client(), WithTokenSource(func() string { return "tok" }))
}

func TestRecordLogin(t *testing.T) {
	var got login.Request
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/trackLogin", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"id":"l1","ip_address":"203.0.113.9"}`))
	})

	err := c.RecordLogin(context.Background(), login.Request{UserID: "u1", Email: "a@example.org", LoginMethod: "otp"})

	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "otp", got.LoginMethod)
}

func TestRecordLogin_ErrorBody(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"必須フィールドが不足しています: email","code":"MISSING_REQUIRED_FIELDS","message":"必須フィールドが不足しています: email"}`))
	})

	err := c.RecordLogin(context.Background(), login.Request{UserID: "u1"})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, "MISSING_REQUIRED_FIELDS", se.Code)
}

func TestTouch(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/trackActivity", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u1", body["user_id"])
		assert.Equal(t, "a@example.org", body["email"])
		assert.Equal(t, "2026-03-01T09:30:00Z", body["activity_time"])
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	assert.NoError(t, c.Touch(context.Background(), "u1", "a@example.org", at))
}

func TestStatus(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "u1", r.URL.Query().Get("userId"))
		assert.Empty(t, r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"needsDisclaimer":false,"lastAcceptedAt":"2026-02-20T00:00:00Z"}`))
	})

	st, err := c.Status(context.Background(), "u1", "")

	require.NoError(t, err)
	assert.False(t, st.NeedsDisclaimer)
	require.NotNil(t, st.LastAcceptedAt)
	assert.Equal(t, 2026, st.LastAcceptedAt.Year())
}

func TestStatus_NotFound(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"ユーザーが見つかりません。","code":"USER_NOT_FOUND"}`))
	})

	_, err := c.Status(context.Background(), "", "ghost@example.org")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "ユーザーが見つかりません。", se.Message)
}

func TestAccept(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@example.org", body["email"])
		_, hasID := body["userId"]
		assert.False(t, hasID)
		_, _ = w.Write([]byte(`{"success":true,"acceptedAt":"2026-03-01T10:00:00Z"}`))
	})

	at, err := c.Accept(context.Background(), "", "a@example.org")

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), at)
}

func TestAccept_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(srv.URL, srv.Client())

	_, err := c.Accept(context.Background(), "u1", "")
	assert.Error(t, err)
}
