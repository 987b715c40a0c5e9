package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hitoshi/memberportal/internal/model"
)

// directoryRow はPostgREST経由で読むusersテーブルの行。
type directoryRow struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// FindByEmail はSupabaseのREST API（/rest/v1/users）からメールアドレスでユーザーを引く。
// admission.UserDirectory を実装する。該当がなければnil, nilを返す。
// 行レベルセキュリティのため、サインイン済みならそのアクセストークンで問い合わせる。
func (c *Client) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	q := url.Values{}
	q.Set("select", "id,email,role")
	q.Set("email", "eq."+model.NormalizeEmail(email))
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/v1/users?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user lookup request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.bearerToken())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user lookup returned status %d", resp.StatusCode)
	}

	var rows []directoryRow
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode user lookup: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	return &model.User{
		ID:    rows[0].ID,
		Email: rows[0].Email,
		Role:  model.Role(rows[0].Role),
	}, nil
}

func (c *Client) bearerToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.AccessToken != "" {
		return c.session.AccessToken
	}
	return c.anonKey
}
