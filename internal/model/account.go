// Package model はドメインモデルを定義する。
package model

import "time"

// Account は認証対象のアカウントを表す。
// PasswordHashが空文字のアカウントはフェデレーテッドログイン専用で、ローカル認証は常に失敗する。
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasLocalCredential はパスワードによるローカル認証が可能かを返す。
func (a *Account) HasLocalCredential() bool {
	return a.PasswordHash != ""
}

// Summary はクライアントへ返却してよい項目だけを取り出す。
func (a *Account) Summary() *AccountSummary {
	return &AccountSummary{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
	}
}

// AccountSummary はコア外に公開するアカウントの射影。パスワードハッシュは含まない。
type AccountSummary struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Identity は外部IdPのsubjectとアカウントの紐付け記録を表す。
type Identity struct {
	ID        string
	AccountID string
	Provider  string
	Subject   string
	CreatedAt time.Time
}

// Session はサーバー側で保持するログインセッションを表す。
// 保存するのはアカウントIDのみで、アカウント本体は解決のたびに再取得する。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
	TouchedAt time.Time
}

// Expired は指定時刻の時点でセッションが期限切れかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
