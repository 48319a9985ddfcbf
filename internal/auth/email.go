package auth

import (
	"net/mail"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeEmail はストア検索・保存前にメールアドレスを正規化する。
// 前後の空白を除去して小文字化し、ドメイン部は国際化ドメインをASCII形式に変換する。
// 変換できないドメインは小文字化のみで返す。
func NormalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return email
	}
	local, domain := email[:at], email[at+1:]
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return email
	}
	return local + "@" + ascii
}

// maxEmailLength はaccounts.emailカラムの長さ。
const maxEmailLength = 320

// validEmail は単一のアドレスとして解釈できる（表示名なし）かを返す。
func validEmail(email string) bool {
	if len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(email[strings.LastIndexByte(email, '@'):], ".")
}
