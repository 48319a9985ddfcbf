// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost は新規ハッシュ生成時の既定コスト。
const DefaultBcryptCost = 10

// PasswordHasher はbcryptによるパスワードのハッシュ化と照合を行う。
// 平文パスワードをログや永続化層に渡してはならない。
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher はPasswordHasherを生成する。
// costが0以下の場合はDefaultBcryptCostを使い、bcryptの許容範囲に丸める。
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

// Cost は実際に使用するbcryptコストを返す。
func (h *PasswordHasher) Cost() int {
	return h.cost
}

// Hash はソルト付きのbcryptハッシュを生成する。
// 72バイトを超えるパスワードはbcryptがエラーを返す。
func (h *PasswordHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify はパスワードが保存済みハッシュと一致するかを返す。
// 空文字や壊れたハッシュはパニックせずfalseを返す。
func (h *PasswordHasher) Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
