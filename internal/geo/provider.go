// Package geo はIPアドレスから位置情報を解決する。
// 複数のプロバイダを優先順に1件ずつ問い合わせ、最初に成功した結果を採用する。
package geo

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/memberportal/internal/model"
)

// 呼び出し元ごとのプロバイダ単位のタイムアウト。
const (
	ClientTimeout    = 4 * time.Second
	ServerTimeout    = 5 * time.Second
	DiscoveryTimeout = 3 * time.Second
)

// Provider は位置情報プロバイダの定義。
// Parseはプロバイダ固有の成功フラグを判定し、無効なペイロードにはfalseを返す。
type Provider struct {
	Name     string
	BuildURL func(ip string) string
	Parse    func(body []byte) (*model.GeoSnapshot, bool)
}

// ClientProviders はクライアント側で使うプロバイダ一覧を返す。
func ClientProviders() []Provider {
	return []Provider{IPAPICo()}
}

// ServerProviders はサーバー側で使うプロバイダ一覧を優先順に返す。
func ServerProviders() []Provider {
	return []Provider{
		IPAPICo(),
		IPWhoIs(),
		IPAPICom("https"),
		IPAPICom("http"),
	}
}

// probeIP はプロバイダURLの静的検証に埋め込む公開アドレス。
const probeIP = "8.8.8.8"

// FilterProviders はvalidateが拒否する送信先を持つプロバイダを除外する。
// 除外理由はプロバイダごとのエラーとして返す。
func FilterProviders(providers []Provider, validate func(rawURL string) error) ([]Provider, []error) {
	kept := make([]Provider, 0, len(providers))
	var rejected []error
	for _, p := range providers {
		if err := validate(p.BuildURL(probeIP)); err != nil {
			rejected = append(rejected, fmt.Errorf("provider %s: %w", p.Name, err))
			continue
		}
		kept = append(kept, p)
	}
	return kept, rejected
}

// IPAPICo はipapi.coのプロバイダ定義を返す。
func IPAPICo() Provider {
	return Provider{
		Name: "ipapi.co",
		BuildURL: func(ip string) string {
			return "https://ipapi.co/" + url.PathEscape(ip) + "/json/"
		},
		Parse: parseIPAPICo,
	}
}

// IPWhoIs はipwho.isのプロバイダ定義を返す。
func IPWhoIs() Provider {
	return Provider{
		Name: "ipwho.is",
		BuildURL: func(ip string) string {
			return "https://ipwho.is/" + url.PathEscape(ip)
		},
		Parse: parseIPWhoIs,
	}
}

// IPAPICom はip-api.comのプロバイダ定義を返す。schemeは"http"または"https"。
func IPAPICom(scheme string) Provider {
	name := "ip-api.com"
	if scheme == "http" {
		name = "ip-api.com(http)"
	}
	return Provider{
		Name: name,
		BuildURL: func(ip string) string {
			return scheme + "://ip-api.com/json/" + url.PathEscape(ip)
		},
		Parse: parseIPAPICom,
	}
}

type ipapiCoResponse struct {
	Error       bool     `json:"error"`
	CountryName string   `json:"country_name"`
	CountryCode string   `json:"country_code"`
	City        string   `json:"city"`
	Region      string   `json:"region"`
	RegionCode  string   `json:"region_code"`
	Timezone    string   `json:"timezone"`
	Org         string   `json:"org"`
	ASN         string   `json:"asn"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Postal      string   `json:"postal"`
}

func parseIPAPICo(body []byte) (*model.GeoSnapshot, bool) {
	var r ipapiCoResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, false
	}
	if r.Error || r.CountryName == "" {
		return nil, false
	}
	snap := &model.GeoSnapshot{
		Country:     r.CountryName,
		CountryCode: r.CountryCode,
		City:        r.City,
		Region:      r.Region,
		RegionCode:  r.RegionCode,
		Timezone:    r.Timezone,
		// ipapi.coはISPを返さないため組織名で代用する
		ISP:        r.Org,
		Org:        r.Org,
		ASN:        r.ASN,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		PostalCode: r.Postal,
	}
	snap.Normalize()
	return snap, true
}

type ipwhoIsResponse struct {
	Success     bool     `json:"success"`
	Country     string   `json:"country"`
	CountryCode string   `json:"country_code"`
	City        string   `json:"city"`
	Region      string   `json:"region"`
	RegionCode  string   `json:"region_code"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Postal      string   `json:"postal"`
	Timezone    struct {
		ID string `json:"id"`
	} `json:"timezone"`
	Connection struct {
		ASN json.Number `json:"asn"`
		Org string      `json:"org"`
		ISP string      `json:"isp"`
	} `json:"connection"`
}

func parseIPWhoIs(body []byte) (*model.GeoSnapshot, bool) {
	var r ipwhoIsResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, false
	}
	if !r.Success {
		return nil, false
	}
	asn := ""
	if n := r.Connection.ASN.String(); n != "" && n != "0" {
		asn = fmt.Sprintf("AS%s", n)
	}
	snap := &model.GeoSnapshot{
		Country:     r.Country,
		CountryCode: r.CountryCode,
		City:        r.City,
		Region:      r.Region,
		RegionCode:  r.RegionCode,
		Timezone:    r.Timezone.ID,
		ISP:         r.Connection.ISP,
		Org:         r.Connection.Org,
		ASN:         asn,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		PostalCode:  r.Postal,
	}
	snap.Normalize()
	return snap, true
}

type ipAPIComResponse struct {
	Status      string   `json:"status"`
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	Region      string   `json:"region"`
	RegionName  string   `json:"regionName"`
	City        string   `json:"city"`
	Zip         string   `json:"zip"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Timezone    string   `json:"timezone"`
	ISP         string   `json:"isp"`
	Org         string   `json:"org"`
	AS          string   `json:"as"`
}

func parseIPAPICom(body []byte) (*model.GeoSnapshot, bool) {
	var r ipAPIComResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, false
	}
	if r.Status != "success" {
		return nil, false
	}
	// "AS15169 Google LLC" の先頭トークンのみをASNとする
	asn := r.AS
	if i := strings.IndexByte(asn, ' '); i > 0 {
		asn = asn[:i]
	}
	snap := &model.GeoSnapshot{
		Country:     r.Country,
		CountryCode: r.CountryCode,
		City:        r.City,
		Region:      r.RegionName,
		RegionCode:  r.Region,
		Timezone:    r.Timezone,
		ISP:         r.ISP,
		Org:         r.Org,
		ASN:         asn,
		Latitude:    r.Lat,
		Longitude:   r.Lon,
		PostalCode:  r.Zip,
	}
	snap.Normalize()
	return snap, true
}
