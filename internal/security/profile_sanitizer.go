package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxNameLength は氏名フィールドとして保存する最大文字数。
const maxNameLength = 100

// ProfileSanitizer は登録フォームやIdPのクレームから受け取った氏名を保存用に整形する。
// HTMLタグは全て除去し、前後の空白を取り除いた上でmaxNameLength文字に切り詰める。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
// 氏名にマークアップは不要なのでbluemondayのStrictPolicyを使う。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeName は氏名を整形して返す。空文字列の入力には空文字列を返す。
func (s *ProfileSanitizer) SanitizeName(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは&などをエスケープするため、プレーンテキストに戻す
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > maxNameLength {
		cleaned = string([]rune(cleaned)[:maxNameLength])
	}
	return cleaned
}
