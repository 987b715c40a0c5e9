package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxTextLength はクライアント由来の文字列を保存する際の最大文字数。
const DefaultMaxTextLength = 512

// TextSanitizerService はクライアントから受け取った自由記述文字列を無害化するインターフェース。
// User-Agentや言語設定など、ログイン履歴に保存する値に適用する。
type TextSanitizerService interface {
	// Sanitize はマークアップを全て除去したプレーンテキストを返す。
	// 前後の空白は除去され、最大長を超える部分は切り詰められる。
	Sanitize(s string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizerServiceの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
	maxLen int
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// maxLenが0以下の場合はDefaultMaxTextLengthを使用する。
func NewTextSanitizer(maxLen int) *textSanitizer {
	if maxLen <= 0 {
		maxLen = DefaultMaxTextLength
	}
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
		maxLen: maxLen,
	}
}

// Sanitize はタグを除去し、エスケープされた実体参照を元の文字に戻して返す。
// 保存先はHTMLではないため、エスケープ済みの形では保持しない。
func (s *textSanitizer) Sanitize(in string) string {
	if in == "" {
		return ""
	}
	out := html.UnescapeString(s.policy.Sanitize(in))
	return TruncateRunes(strings.TrimSpace(out), s.maxLen)
}

// TruncateRunes はsを先頭からmaxLen文字までに切り詰める。
func TruncateRunes(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}

// SanitizeAll はスライスの各要素をサニタイズし、空になった要素を取り除く。
func (s *textSanitizer) SanitizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = s.Sanitize(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
