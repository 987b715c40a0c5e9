package model

import "time"

// Unknown は解決できなかった文字列フィールドに設定する既定値。
const Unknown = "Unknown"

// LoginMethod はログイン方式を表す。
type LoginMethod string

const (
	// LoginMethodPassword はパスワードログイン。
	LoginMethodPassword LoginMethod = "password"
	// LoginMethodOTP はワンタイムパスコード（IdPセッション）によるログイン。
	LoginMethodOTP LoginMethod = "otp"
	// LoginMethodUnknown は方式不明。
	LoginMethodUnknown LoginMethod = "unknown"
)

// ParseLoginMethod は文字列をLoginMethodに変換する。未知の値はLoginMethodUnknownになる。
func ParseLoginMethod(s string) LoginMethod {
	switch LoginMethod(s) {
	case LoginMethodPassword:
		return LoginMethodPassword
	case LoginMethodOTP:
		return LoginMethodOTP
	default:
		return LoginMethodUnknown
	}
}

// GeoSnapshot は正規化済みの位置情報。
// 文字列フィールドは未解決時に "Unknown"、緯度経度はnilとなる。
type GeoSnapshot struct {
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	City        string   `json:"city"`
	Region      string   `json:"region"`
	RegionCode  string   `json:"regionCode"`
	Timezone    string   `json:"timezone"`
	ISP         string   `json:"isp"`
	Org         string   `json:"org"`
	ASN         string   `json:"asn"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	PostalCode  string   `json:"postalCode"`
}

// UnknownGeo は全フィールドが未解決のGeoSnapshotを返す。
func UnknownGeo() GeoSnapshot {
	return GeoSnapshot{
		Country:     Unknown,
		CountryCode: Unknown,
		City:        Unknown,
		Region:      Unknown,
		RegionCode:  Unknown,
		Timezone:    Unknown,
		ISP:         Unknown,
		Org:         Unknown,
		ASN:         Unknown,
		PostalCode:  Unknown,
	}
}

// Normalize は空の文字列フィールドを "Unknown" で埋める。
func (g *GeoSnapshot) Normalize() {
	for _, f := range []*string{
		&g.Country, &g.CountryCode, &g.City, &g.Region, &g.RegionCode,
		&g.Timezone, &g.ISP, &g.Org, &g.ASN, &g.PostalCode,
	} {
		if *f == "" {
			*f = Unknown
		}
	}
}

// IsResolved は国または都市のいずれかが解決済みかどうかを返す。
func (g *GeoSnapshot) IsResolved() bool {
	if g == nil {
		return false
	}
	return isKnown(g.Country) || isKnown(g.City)
}

// DeviceInfo はログイン時点のクライアント環境のスナップショット。
// 文字列フィールドは "Unknown"、数値・真偽値はnilを既定値とし、キーが欠落することはない。
type DeviceInfo struct {
	DeviceType          string   `json:"deviceType"`
	Browser             string   `json:"browser"`
	BrowserVersion      string   `json:"browserVersion"`
	OS                  string   `json:"os"`
	UserAgent           string   `json:"userAgent"`
	Language            string   `json:"language"`
	Languages           []string `json:"languages"`
	Platform            string   `json:"platform"`
	CookieEnabled       *bool    `json:"cookieEnabled"`
	DoNotTrack          string   `json:"doNotTrack"`
	ScreenWidth         *int     `json:"screenWidth"`
	ScreenHeight        *int     `json:"screenHeight"`
	ViewportWidth       *int     `json:"viewportWidth"`
	ViewportHeight      *int     `json:"viewportHeight"`
	ColorDepth          *int     `json:"colorDepth"`
	PixelRatio          *float64 `json:"pixelRatio"`
	Timezone            string   `json:"timezone"`
	TimezoneOffset      *int     `json:"timezoneOffset"`
	Online              *bool    `json:"online"`
	ConnectionType      string   `json:"connectionType"`
	HardwareConcurrency *int     `json:"hardwareConcurrency"`
	DeviceMemory        *float64 `json:"deviceMemory"`
}

// Normalize は空の文字列フィールドを "Unknown" で埋め、Languagesをnilでない値にする。
func (d *DeviceInfo) Normalize() {
	for _, f := range []*string{
		&d.DeviceType, &d.Browser, &d.BrowserVersion, &d.OS, &d.UserAgent,
		&d.Language, &d.Platform, &d.DoNotTrack, &d.Timezone, &d.ConnectionType,
	} {
		if *f == "" {
			*f = Unknown
		}
	}
	if d.Languages == nil {
		d.Languages = []string{}
	}
}

// LoginEvent は1回のログインを表す追記専用レコード（user_loginsテーブル）。
type LoginEvent struct {
	ID          string
	UserID      string
	Email       string
	IPAddress   string
	Geo         GeoSnapshot
	Device      DeviceInfo
	LoginMethod LoginMethod
	LoginTime   time.Time
	CreatedAt   time.Time
}

func isKnown(s string) bool {
	return s != "" && s != Unknown
}
