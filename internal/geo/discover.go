package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultDiscoveryURL は公開IPアドレスの取得に使うエンドポイント。
const DefaultDiscoveryURL = "https://api.ipify.org?format=json"

// IPDiscoverer は呼び出し元の公開IPアドレスを外部サービスに問い合わせて取得する。
type IPDiscoverer struct {
	client  HTTPDoer
	url     string
	timeout time.Duration
}

// NewIPDiscoverer はIPDiscovererを生成する。urlが空の場合はDefaultDiscoveryURLを使う。
func NewIPDiscoverer(client HTTPDoer, url string, timeout time.Duration) *IPDiscoverer {
	if url == "" {
		url = DefaultDiscoveryURL
	}
	if timeout <= 0 {
		timeout = DiscoveryTimeout
	}
	return &IPDiscoverer{client: client, url: url, timeout: timeout}
}

// Discover は公開IPアドレスを返す。
func (d *IPDiscoverer) Discover(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to discover public IP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	ip := strings.TrimSpace(body.IP)
	if ip == "" {
		return "", fmt.Errorf("empty IP in response")
	}
	return ip, nil
}
