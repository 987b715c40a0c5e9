package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/memberportal/internal/admission"
)

// DefaultRefreshMargin は有効期限のどれだけ前からトークンを更新するか。
const DefaultRefreshMargin = 60 * time.Second

const maxResponseSize = 1 << 20

// HTTPDoer はHTTPリクエストを送信するインターフェース。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client はSupabase AuthのセッションAPIクライアント。admission.IdentityProvider を実装する。
type Client struct {
	baseURL       string
	anonKey       string
	http          HTTPDoer
	refreshMargin time.Duration
	now           func() time.Time

	mu        sync.Mutex
	session   *admission.Session
	listeners map[int]func(admission.AuthEvent, *admission.Session)
	nextID    int
}

// NewClient はClientを生成する。baseURLはSupabaseプロジェクトのURL。
func NewClient(baseURL, anonKey string, httpClient HTTPDoer) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		anonKey:       anonKey,
		http:          httpClient,
		refreshMargin: DefaultRefreshMargin,
		now:           time.Now,
		listeners:     make(map[int]func(admission.AuthEvent, *admission.Session)),
	}
}

// tokenResponse は /auth/v1/token のレスポンス。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// SignInWithPassword はメールアドレスとパスワードでサインインし、SIGNED_INを通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*admission.Session, error) {
	sess, err := c.requestToken(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	c.setSession(sess)
	c.emit(admission.AuthSignedIn, sess)
	return sess, nil
}

// SetSession はマジックリンク等で得たセッションを設定し、SIGNED_INを通知する。
func (c *Client) SetSession(sess *admission.Session) {
	c.setSession(sess)
	c.emit(admission.AuthSignedIn, sess)
}

// GetSession は現在のセッションを返す。セッションがなければnilを返す。
// 有効期限が近い場合はリフレッシュトークンで更新し、TOKEN_REFRESHEDを通知する。
func (c *Client) GetSession(ctx context.Context) (*admission.Session, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		return nil, nil
	}
	if sess.ExpiresAt.IsZero() || c.now().Add(c.refreshMargin).Before(sess.ExpiresAt) {
		cp := *sess
		return &cp, nil
	}

	refreshed, err := c.requestToken(ctx, "refresh_token", map[string]string{"refresh_token": sess.RefreshToken})
	if err != nil {
		c.setSession(nil)
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	c.setSession(refreshed)
	c.emit(admission.AuthTokenRefreshed, refreshed)
	return refreshed, nil
}

// OnAuthStateChange は認証状態の変化を購読する。
func (c *Client) OnAuthStateChange(fn func(admission.AuthEvent, *admission.Session)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SignOut はセッションを破棄し、SIGNED_OUTを通知する。
// サーバー側のログアウトに失敗してもローカルのセッションは破棄する。
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	var err error
	if sess != nil && sess.AccessToken != "" {
		err = c.logout(ctx, sess.AccessToken)
	}
	c.emit(admission.AuthSignedOut, nil)
	return err
}

func (c *Client) logout(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to build logout request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call logout: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) requestToken(ctx context.Context, grantType string, body map[string]string) (*admission.Session, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	url := c.baseURL + "/auth/v1/token?grant_type=" + grantType
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}

	sess := &admission.Session{
		UserID:       tr.User.ID,
		Email:        tr.User.Email,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	switch {
	case tr.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		sess.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return sess, nil
}

func (c *Client) setSession(sess *admission.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess == nil {
		c.session = nil
		return
	}
	cp := *sess
	c.session = &cp
}

// emit は購読者に通知する。ロックは保持せずに呼び出す。
func (c *Client) emit(event admission.AuthEvent, sess *admission.Session) {
	c.mu.Lock()
	fns := make([]func(admission.AuthEvent, *admission.Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		var cp *admission.Session
		if sess != nil {
			s := *sess
			cp = &s
		}
		fn(event, cp)
	}
}
