package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/apexauth/internal/repository"
)

// ローカル認証の失敗理由。そのままクライアントに返す。
const (
	ReasonEmailNotFound     = "email not found"
	ReasonIncorrectPassword = "incorrect password"
)

// PasswordVerifier は平文パスワードとハッシュを照合する。
type PasswordVerifier interface {
	Verify(password, hash string) bool
}

// LocalStrategy はメールアドレスとパスワードで本人確認を行う。
// パスワードハッシュが空のアカウント（フェデレーテッド専用）は常に照合に失敗する。
type LocalStrategy struct {
	accounts repository.AccountRepository
	verifier PasswordVerifier
}

// NewLocalStrategy はLocalStrategyを生成する。
func NewLocalStrategy(accounts repository.AccountRepository, verifier PasswordVerifier) *LocalStrategy {
	return &LocalStrategy{accounts: accounts, verifier: verifier}
}

// Attempt はCredentialsを検証する。ストアのエラーは失敗ではなくOutcomeErrorとして返す。
func (s *LocalStrategy) Attempt(ctx context.Context, in Input) Outcome {
	creds, ok := in.(Credentials)
	if !ok {
		return Errored(fmt.Errorf("local strategy got %T: %w", in, ErrUnsupportedInput))
	}

	account, err := s.accounts.FindByEmail(ctx, NormalizeEmail(creds.Email))
	if err != nil {
		return Errored(fmt.Errorf("failed to look up account: %w", err))
	}
	if account == nil {
		return Failure(ReasonEmailNotFound)
	}

	if !account.HasLocalCredential() || !s.verifier.Verify(creds.Password, account.PasswordHash) {
		return Failure(ReasonIncorrectPassword)
	}

	return Success(account)
}

var _ Strategy = (*LocalStrategy)(nil)
