package device

import (
	"net/http"
	"strings"
)

// EnvironmentFromHeaders はHTTPリクエストヘッダーからサーバー側で分かる範囲の環境を組み立てる。
// クライアントがデバイス情報を送らなかった場合の補完に使う。
func EnvironmentFromHeaders(h http.Header) Environment {
	env := Environment{
		UserAgent:    strings.TrimSpace(h.Get("User-Agent")),
		Brands:       parseSecCHUA(h.Get("Sec-CH-UA")),
		Mobile:       parseSecCHUAMobile(h.Get("Sec-CH-UA-Mobile")),
		PlatformHint: strings.Trim(strings.TrimSpace(h.Get("Sec-CH-UA-Platform")), `"`),
		Languages:    parseAcceptLanguage(h.Get("Accept-Language")),
		DoNotTrack:   strings.TrimSpace(h.Get("DNT")),
	}
	if len(env.Languages) > 0 {
		env.Language = env.Languages[0]
	}
	return env
}

// parseSecCHUA は `"Chromium";v="120", "Google Chrome";v="120"` 形式のブランド一覧を解析する。
func parseSecCHUA(v string) []Brand {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var brands []Brand
	for _, item := range strings.Split(v, ",") {
		parts := strings.Split(strings.TrimSpace(item), ";")
		name := strings.Trim(strings.TrimSpace(parts[0]), `"`)
		if name == "" {
			continue
		}
		b := Brand{Brand: name}
		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(p, "v=") {
				b.Version = strings.Trim(strings.TrimPrefix(p, "v="), `"`)
			}
		}
		brands = append(brands, b)
	}
	return brands
}

// parseSecCHUAMobile は "?1" / "?0" を真偽値に変換する。それ以外はnil。
func parseSecCHUAMobile(v string) *bool {
	var b bool
	switch strings.TrimSpace(v) {
	case "?1":
		b = true
	case "?0":
		b = false
	default:
		return nil
	}
	return &b
}

// parseAcceptLanguage はAccept-Languageから言語タグを出現順に取り出す。品質値は無視する。
func parseAcceptLanguage(v string) []string {
	var langs []string
	for _, part := range strings.Split(v, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag == "" || tag == "*" {
			continue
		}
		langs = append(langs, tag)
	}
	return langs
}
