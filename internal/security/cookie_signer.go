package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidSignature は署名付きの値が改ざんされているか形式が不正な場合に返る。
var ErrInvalidSignature = errors.New("invalid cookie signature")

// CookieSigner はセッションCookieの値にHMAC-SHA256署名を付与・検証する。
// 署名済みの値は "<value>.<base64url(署名)>" の形式になる。
type CookieSigner struct {
	secret []byte
}

// NewCookieSigner はCookieSignerを生成する。
func NewCookieSigner(secret string) *CookieSigner {
	return &CookieSigner{secret: []byte(secret)}
}

// Sign は値に署名を付与した文字列を返す。
func (s *CookieSigner) Sign(value string) string {
	return value + "." + s.mac(value)
}

// Unsign は署名を検証し、元の値を返す。
func (s *CookieSigner) Unsign(signed string) (string, error) {
	idx := strings.LastIndexByte(signed, '.')
	if idx <= 0 || idx == len(signed)-1 {
		return "", ErrInvalidSignature
	}
	value, sig := signed[:idx], signed[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(s.mac(value))) {
		return "", ErrInvalidSignature
	}
	return value, nil
}

func (s *CookieSigner) mac(value string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
