// Package security はクライアントIPの抽出、外部送信時のSSRF防止、保存前のテキスト無害化を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// nonPublicNetworks は外部通信先・位置情報の逆引き対象として扱わないアドレス範囲。
var nonPublicNetworks = mustParseCIDRs(
	"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", // RFC 1918
	"100.64.0.0/10",  // CGNAT (RFC 6598)
	"127.0.0.0/8",    // ループバック
	"169.254.0.0/16", // リンクローカル。169.254.169.254のメタデータIPを含む
	"0.0.0.0/8",
	"224.0.0.0/4",
	"::/128", "::1/128",
	"fe80::/10",
	"fc00::/7",
)

// internalHostSuffixes はDNS解決前に拒否するホスト名。
var internalHostSuffixes = []string{"localhost", ".local", ".internal"}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("security: invalid CIDR %q: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// SSRFGuard は位置情報プロバイダやIdPなど、外部APIへの送信先を制限する。
type SSRFGuard struct {
	schemes []string
	ports   []int
}

// NewSSRFGuard はhttp/httpsかつ80/443番ポートのみを許可するSSRFGuardを生成する。
// ip-api.comの無償枠はHTTPのみのため、httpも許可する。
func NewSSRFGuard() *SSRFGuard {
	return &SSRFGuard{
		schemes: []string{"http", "https"},
		ports:   []int{80, 443},
	}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはDialerのControlフックでDNS解決後のIPを検証するため、DNS再バインディングも防げる。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(g.schemes...).
		SetAllowedPorts(g.ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。起動時の送信先チェックに用いる。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(g.schemes, scheme) {
		return fmt.Errorf("disallowed scheme %q (allowed: %v)", u.Scheme, g.schemes)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || !slices.Contains(g.ports, port) {
			return fmt.Errorf("disallowed port %q (allowed: %v)", p, g.ports)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if !isPublic(ip) {
			return fmt.Errorf("non-public IP address: %s", ip)
		}
		return nil
	}

	for _, suffix := range internalHostSuffixes {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, suffix) {
			return fmt.Errorf("internal host: %s", host)
		}
	}
	return nil
}

// IsPublicIP は文字列がパース可能かつ公開アドレスのIPかどうかを返す。
// 位置情報の逆引き対象にできるかの判定に使う。
func IsPublicIP(s string) bool {
	ip := net.ParseIP(strings.TrimSpace(s))
	return ip != nil && isPublic(ip)
}

func isPublic(ip net.IP) bool {
	for _, n := range nonPublicNetworks {
		if n.Contains(ip) {
			return false
		}
	}
	return true
}
