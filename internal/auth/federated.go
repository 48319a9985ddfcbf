package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/apexauth/internal/metrics"
	"github.com/hitoshi/apexauth/internal/model"
	"github.com/hitoshi/apexauth/internal/repository"
)

// ErrIncompleteProfile はIdPのプロフィールにメールアドレスが含まれない場合に返る。
var ErrIncompleteProfile = errors.New("incomplete profile: email claim is missing")

// NameSanitizer はIdPから受け取った氏名を保存用に整形する。
type NameSanitizer interface {
	SanitizeName(raw string) string
}

// FederatedStrategy はIdPが確認したプロフィールでアカウントを照合または作成する。
//
// IdPによるメールアドレスの所有確認をそのまま信頼する。
// そのため、フェデレーテッドログインで作成されたメールアドレスに対する
// ローカル登録は既存アカウントとの衝突として拒否される。
// 既存アカウントの氏名は再ログイン時に更新しない。
type FederatedStrategy struct {
	accounts   repository.AccountRepository
	identities repository.IdentityRepository
	names      NameSanitizer
	metrics    accountCreationRecorder
	nowF       func() time.Time
}

type accountCreationRecorder interface {
	RecordFederatedAccountCreated()
}

// NewFederatedStrategy はFederatedStrategyを生成する。
// identitiesがnilの場合はIdPのsubjectを記録しない。
func NewFederatedStrategy(
	accounts repository.AccountRepository,
	identities repository.IdentityRepository,
	names NameSanitizer,
	recorder accountCreationRecorder,
) *FederatedStrategy {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &FederatedStrategy{
		accounts:   accounts,
		identities: identities,
		names:      names,
		metrics:    recorder,
		nowF:       time.Now,
	}
}

// Attempt はProfileに対応するアカウントを返す。未登録のメールアドレスなら作成する。
func (s *FederatedStrategy) Attempt(ctx context.Context, in Input) Outcome {
	profile, ok := in.(Profile)
	if !ok {
		return Errored(fmt.Errorf("federated strategy got %T: %w", in, ErrUnsupportedInput))
	}

	email := NormalizeEmail(profile.Email)
	if email == "" {
		return Errored(ErrIncompleteProfile)
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return Errored(fmt.Errorf("failed to look up account: %w", err))
	}

	if account == nil {
		account, err = s.createAccount(ctx, email, profile)
		if err != nil {
			return Errored(err)
		}
	}

	if err := s.linkIdentity(ctx, account, profile); err != nil {
		return Errored(err)
	}

	return Success(account)
}

// createAccount はパスワードなしのアカウントを作成する。
// 同じメールアドレスの初回ログインが並行して一意制約に当たった場合は一度だけ再取得する。
func (s *FederatedStrategy) createAccount(ctx context.Context, email string, profile Profile) (*model.Account, error) {
	now := s.nowF()
	account := &model.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: "",
		FirstName:    s.names.SanitizeName(profile.GivenName),
		LastName:     s.names.SanitizeName(profile.FamilyName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.accounts.Create(ctx, account)
	if err == nil {
		s.metrics.RecordFederatedAccountCreated()
		slog.Info("federated account created",
			slog.String("account_id", account.ID),
			slog.String("provider", profile.Provider),
		)
		return account, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	existing, findErr := s.accounts.FindByEmail(ctx, email)
	if findErr != nil {
		return nil, fmt.Errorf("failed to re-read account after conflict: %w", findErr)
	}
	if existing == nil {
		return nil, fmt.Errorf("account vanished after create conflict: %w", err)
	}
	return existing, nil
}

// linkIdentity はIdPのsubjectをアカウントに記録する。記録済みなら書き込まない。
// 別アカウントに紐づいたsubjectは書き換えず、警告ログだけ残す。
func (s *FederatedStrategy) linkIdentity(ctx context.Context, account *model.Account, profile Profile) error {
	if s.identities == nil || profile.Subject == "" {
		return nil
	}

	existing, err := s.identities.FindByProviderSubject(ctx, profile.Provider, profile.Subject)
	if err != nil {
		return fmt.Errorf("failed to look up identity: %w", err)
	}
	if existing != nil {
		if existing.AccountID != account.ID {
			slog.Warn("identity linked to another account",
				slog.String("provider", profile.Provider),
				slog.String("linked_account_id", existing.AccountID),
				slog.String("account_id", account.ID),
			)
		}
		return nil
	}

	err = s.identities.Link(ctx, &model.Identity{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		Provider:  profile.Provider,
		Subject:   profile.Subject,
		CreatedAt: s.nowF(),
	})
	if err != nil {
		return fmt.Errorf("failed to link identity: %w", err)
	}
	return nil
}

var _ Strategy = (*FederatedStrategy)(nil)
