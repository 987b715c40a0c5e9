// Package device はクライアント環境からデバイス情報のスナップショットを生成する。
package device

import (
	"regexp"
	"strings"

	"github.com/hitoshi/memberportal/internal/model"
)

// Brand はUser-Agent Client Hintsのブランド1件。
type Brand struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// Environment はデバイス情報の収集元となる実行環境の値。
// 取得できなかった項目はゼロ値またはnilのままでよい。
type Environment struct {
	UserAgent string
	// 構造化されたブランド情報（navigator.userAgentData相当）。空の場合はUser-Agent文字列から判定する。
	Brands       []Brand
	Mobile       *bool
	PlatformHint string

	Language            string
	Languages           []string
	Platform            string
	CookieEnabled       *bool
	DoNotTrack          string
	ScreenWidth         *int
	ScreenHeight        *int
	ViewportWidth       *int
	ViewportHeight      *int
	ColorDepth          *int
	PixelRatio          *float64
	Timezone            string
	TimezoneOffset      *int
	Online              *bool
	ConnectionType      string
	HardwareConcurrency *int
	DeviceMemory        *float64
}

// Collect は環境からDeviceInfoを生成する。副作用はない。
// 全ての文字列項目は "Unknown"、数値・真偽値はnilを既定値とする。
func Collect(env Environment) model.DeviceInfo {
	info := model.DeviceInfo{
		UserAgent:           env.UserAgent,
		Language:            env.Language,
		Languages:           append([]string(nil), env.Languages...),
		Platform:            env.Platform,
		CookieEnabled:       env.CookieEnabled,
		DoNotTrack:          env.DoNotTrack,
		ScreenWidth:         env.ScreenWidth,
		ScreenHeight:        env.ScreenHeight,
		ViewportWidth:       env.ViewportWidth,
		ViewportHeight:      env.ViewportHeight,
		ColorDepth:          env.ColorDepth,
		PixelRatio:          env.PixelRatio,
		Timezone:            env.Timezone,
		TimezoneOffset:      env.TimezoneOffset,
		Online:              env.Online,
		ConnectionType:      env.ConnectionType,
		HardwareConcurrency: env.HardwareConcurrency,
		DeviceMemory:        env.DeviceMemory,
	}

	if name, version, ok := browserFromBrands(env.Brands); ok {
		info.Browser, info.BrowserVersion = name, version
	} else {
		info.Browser, info.BrowserVersion = browserFromUA(env.UserAgent)
	}

	info.OS = detectOS(env.PlatformHint, env.UserAgent)
	if info.Platform == "" && env.PlatformHint != "" {
		info.Platform = env.PlatformHint
	}
	info.DeviceType = detectDeviceType(env.Mobile, env.UserAgent)
	if info.Language == "" && len(info.Languages) > 0 {
		info.Language = info.Languages[0]
	}

	info.Normalize()
	return info
}

// brandNames は構造化ブランド名から表示名への対応。
var brandNames = map[string]string{
	"Google Chrome":  "Chrome",
	"Microsoft Edge": "Edge",
	"Opera":          "Opera",
	"Brave":          "Brave",
	"Vivaldi":        "Vivaldi",
	"Chromium":       "Chromium",
}

// browserFromBrands は構造化ブランド一覧からブラウザ名とバージョンを決める。
// 具体的な製品ブランドをChromiumより優先し、GREASE用のダミーブランドは無視する。
func browserFromBrands(brands []Brand) (string, string, bool) {
	var fallback *Brand
	for i := range brands {
		b := brands[i]
		name, known := brandNames[b.Brand]
		if !known {
			continue
		}
		if name == "Chromium" {
			fallback = &brands[i]
			continue
		}
		return name, b.Version, true
	}
	if fallback != nil {
		return "Chromium", fallback.Version, true
	}
	return "", "", false
}

var versionPatterns = map[string]*regexp.Regexp{
	"Chrome":  regexp.MustCompile(`(?:Chrome|CriOS)/([\d.]+)`),
	"Firefox": regexp.MustCompile(`(?:Firefox|FxiOS)/([\d.]+)`),
	"Safari":  regexp.MustCompile(`Version/([\d.]+)`),
	"Edge":    regexp.MustCompile(`(?:Edg|Edge|EdgA|EdgiOS)/([\d.]+)`),
	"Opera":   regexp.MustCompile(`(?:OPR|Opera)/([\d.]+)`),
}

// browserFromUA はUser-Agent文字列からブラウザを判定する。
// 判定順はChrome系、Firefox、Safari（Chrome除く）、Edge、Opera。
// Chrome系の判定ではEdgeとOperaのトークンを持つものを除外する。
func browserFromUA(ua string) (string, string) {
	if ua == "" {
		return "", ""
	}

	isEdge := containsAny(ua, "Edg/", "Edge/", "EdgA/", "EdgiOS/")
	isOpera := containsAny(ua, "OPR/", "Opera")

	var name string
	switch {
	case containsAny(ua, "Chrome/", "CriOS/") && !isEdge && !isOpera:
		name = "Chrome"
	case containsAny(ua, "Firefox/", "FxiOS/"):
		name = "Firefox"
	case strings.Contains(ua, "Safari/") && !containsAny(ua, "Chrome/", "Chromium/", "CriOS/") && !isEdge && !isOpera:
		name = "Safari"
	case isEdge:
		name = "Edge"
	case isOpera:
		name = "Opera"
	default:
		return "", ""
	}

	if m := versionPatterns[name].FindStringSubmatch(ua); len(m) == 2 {
		return name, m[1]
	}
	return name, ""
}

// detectOS はプラットフォームヒントまたはUser-AgentからOSを判定する。
func detectOS(platformHint, ua string) string {
	switch strings.Trim(platformHint, `"`) {
	case "Windows":
		return "Windows"
	case "macOS":
		return "macOS"
	case "iOS":
		return "iOS"
	case "Android":
		return "Android"
	case "Chrome OS", "ChromeOS":
		return "ChromeOS"
	case "Linux":
		return "Linux"
	}

	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case containsAny(ua, "iPhone", "iPad", "iPod"):
		return "iOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "CrOS"):
		return "ChromeOS"
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		return "macOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return ""
}

// detectDeviceType はデバイス種別（mobile / tablet / desktop）を判定する。
func detectDeviceType(mobile *bool, ua string) string {
	if containsAny(ua, "iPad", "Tablet") || (strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile")) {
		return "tablet"
	}
	if mobile != nil {
		if *mobile {
			return "mobile"
		}
		return "desktop"
	}
	if containsAny(ua, "Mobile", "iPhone", "iPod", "Android") {
		return "mobile"
	}
	if ua == "" {
		return ""
	}
	return "desktop"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
