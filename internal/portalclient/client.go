// Package portalclient はメンバーポータルAPIのHTTPクライアントを提供する。
// admission.LoginRecorder / activity.Tracker / disclaimer.Checker を実装し、
// クライアント側の入場判定をデプロイ済みのバックエンドに対して動かすために使う。
package portalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/memberportal/internal/disclaimer"
	"github.com/hitoshi/memberportal/internal/login"
)

const maxResponseSize = 1 << 20

// HTTPDoer はHTTPリクエストを送信するインターフェース。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError はAPIが2xx以外を返した場合のエラー。
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("portal api returned %d [%s] %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("portal api returned %d: %s", e.StatusCode, e.Message)
}

// Client はメンバーポータルAPIのクライアント。
type Client struct {
	baseURL string
	http    HTTPDoer
	token   func() string
}

// Option はClientの任意設定。
type Option func(*Client)

// WithTokenSource はAuthorizationヘッダーに付与するアクセストークンの取得関数を設定する。
func WithTokenSource(fn func() string) Option {
	return func(c *Client) {
		c.token = fn
	}
}

// New はClientを生成する。baseURLにはAPIのルート（例: https://portal.example.org）を渡す。
func New(baseURL string, httpClient HTTPDoer, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordLogin はPOST /api/trackLogin を呼び出す。
func (c *Client) RecordLogin(ctx context.Context, req login.Request) error {
	return c.do(ctx, http.MethodPost, "/api/trackLogin", req, nil)
}

// Touch はPOST /api/trackActivity を呼び出す。
func (c *Client) Touch(ctx context.Context, userID, email string, at time.Time) error {
	body := struct {
		UserID       string     `json:"user_id"`
		Email        string     `json:"email"`
		ActivityTime *time.Time `json:"activity_time,omitempty"`
	}{UserID: userID, Email: email}
	if !at.IsZero() {
		body.ActivityTime = &at
	}
	return c.do(ctx, http.MethodPost, "/api/trackActivity", body, nil)
}

// Status はGET /api/disclaimerAcceptance を呼び出す。
func (c *Client) Status(ctx context.Context, userID, email string) (*disclaimer.Status, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("userId", userID)
	}
	if email != "" {
		q.Set("email", email)
	}

	var st disclaimer.Status
	if err := c.do(ctx, http.MethodGet, "/api/disclaimerAcceptance?"+q.Encode(), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Accept はPOST /api/disclaimerAcceptance を呼び出し、記録された同意日時を返す。
func (c *Client) Accept(ctx context.Context, userID, email string) (time.Time, error) {
	body := struct {
		UserID string `json:"userId,omitempty"`
		Email  string `json:"email,omitempty"`
	}{UserID: userID, Email: email}

	var resp struct {
		Success    bool      `json:"success"`
		AcceptedAt time.Time `json:"acceptedAt"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/disclaimerAcceptance", body, &resp); err != nil {
		return time.Time{}, err
	}
	if !resp.Success {
		return time.Time{}, fmt.Errorf("disclaimer acceptance was not recorded")
	}
	return resp.AcceptedAt, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error   string `json:"error"`
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &e)
		msg := e.Message
		if msg == "" {
			msg = e.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Code: e.Code, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
