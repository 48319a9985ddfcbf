package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/apexauth/internal/metrics"
	"github.com/hitoshi/apexauth/internal/model"
	"github.com/hitoshi/apexauth/internal/repository"
)

// minPasswordLength は登録時に要求するパスワードの最小文字数。
const minPasswordLength = 6

// maxPasswordBytes はbcryptが扱える最大バイト数。
const maxPasswordBytes = 72

// PasswordHasher はパスワードのハッシュ化を行う。
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// IdentityProvider はIdPとの認可コードフローを担う。
type IdentityProvider interface {
	// LoginURL はIdPの認可エンドポイントへのURLを生成する。
	LoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得する。
	ExchangeCode(ctx context.Context, code string) (Profile, error)
}

// RegisterInput はローカルアカウント登録の入力。
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginResult はログイン成功時に返す情報。Tokenはクライアントに渡すセッショントークン。
type LoginResult struct {
	Token   string
	Session *model.Session
	Account *model.AccountSummary
}

// Service は認証フローのファサード。ハンドラー層はこの型だけに依存する。
type Service struct {
	registry *Registry
	sessions *SessionManager
	accounts repository.AccountRepository
	hasher   PasswordHasher
	names    NameSanitizer
	idp      IdentityProvider
	metrics  metrics.MetricsCollector
	nowF     func() time.Time
}

// ServiceDeps はServiceの依存関係。
type ServiceDeps struct {
	Registry *Registry
	Sessions *SessionManager
	Accounts repository.AccountRepository
	Hasher   PasswordHasher
	Names    NameSanitizer
	IdP      IdentityProvider
	Metrics  metrics.MetricsCollector
}

// NewService はServiceを生成する。Metricsがnilの場合は記録しない。
func NewService(deps ServiceDeps) *Service {
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		registry: deps.Registry,
		sessions: deps.Sessions,
		accounts: deps.Accounts,
		hasher:   deps.Hasher,
		names:    deps.Names,
		idp:      deps.IdP,
		metrics:  m,
		nowF:     time.Now,
	}
}

// SessionTTL はセッションの有効期間を返す。
func (s *Service) SessionTTL() time.Duration {
	return s.sessions.TTL()
}

// Register はローカルアカウントを登録する。
// 入力検証はストアへのアクセス前に行い、重複メールアドレスはKindConflictを返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.AccountSummary, error) {
	summary, err := s.register(ctx, in)
	if err != nil {
		s.metrics.RecordRegistration(KindOf(err).String())
		return nil, err
	}
	s.metrics.RecordRegistration("success")
	return summary, nil
}

func (s *Service) register(ctx context.Context, in RegisterInput) (*model.AccountSummary, error) {
	email := NormalizeEmail(in.Email)
	firstName := s.names.SanitizeName(in.FirstName)
	lastName := s.names.SanitizeName(in.LastName)

	if email == "" || in.Password == "" || firstName == "" || lastName == "" {
		return nil, validationError(MsgAllFieldsRequired)
	}
	if len([]rune(in.Password)) < minPasswordLength {
		return nil, validationError(MsgPasswordTooShort)
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, validationError(MsgPasswordTooLong)
	}
	if !validEmail(email) {
		return nil, validationError(MsgInvalidEmail)
	}

	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, s.fail("register", serverError(fmt.Errorf("failed to look up account: %w", err)))
	}
	if existing != nil {
		return nil, &AuthError{Kind: KindConflict, Message: MsgEmailTaken}
	}

	start := time.Now()
	hash, err := s.hasher.Hash(in.Password)
	s.metrics.RecordPasswordHash(time.Since(start))
	if err != nil {
		return nil, s.fail("register", serverError(fmt.Errorf("failed to hash password: %w", err)))
	}

	now := s.nowF()
	account := &model.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, &AuthError{Kind: KindConflict, Message: MsgEmailTaken, Err: err}
		}
		return nil, s.fail("register", serverError(fmt.Errorf("failed to create account: %w", err)))
	}

	slog.Info("account registered", slog.String("account_id", account.ID))
	return account.Summary(), nil
}

// Login は指定ストラテジーで認証し、成功すればセッションを発行する。
// 失敗理由はそのまま利用者に返し、基盤エラーは汎用メッセージに置き換える。
func (s *Service) Login(ctx context.Context, strategy string, in Input) (*LoginResult, error) {
	outcome := s.registry.Invoke(ctx, strategy, in)
	s.metrics.RecordLoginAttempt(strategy, outcome.Kind.String())

	switch outcome.Kind {
	case OutcomeSuccess:
		return s.establish(ctx, outcome.Account)
	case OutcomeFailure:
		return nil, &AuthError{Kind: KindUnauthorized, Message: outcome.Reason}
	default:
		err := outcome.Err
		if err == nil {
			err = fmt.Errorf("strategy %q returned an empty outcome", strategy)
		}
		return nil, s.fail("login", serverError(err))
	}
}

// FederatedCallback はIdPから受け取ったプロフィールでログインする。
func (s *Service) FederatedCallback(ctx context.Context, profile Profile) (*LoginResult, error) {
	return s.Login(ctx, StrategyFederated, profile)
}

// Logout はセッションを破棄する。既に存在しないトークンでもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return s.fail("logout", serverError(err))
	}
	s.metrics.RecordSessionDestroyed()
	slog.Info("session destroyed")
	return nil
}

// Resolve はトークンに紐づくアカウントIDを返す。セッションがなければ("", false, nil)。
func (s *Service) Resolve(ctx context.Context, token string) (string, bool, error) {
	accountID, ok, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return "", false, s.fail("resolve", serverError(err))
	}
	return accountID, ok, nil
}

// WhoAmI はセッションの持ち主を返す。アカウントは毎回ストアから取得し直す。
// セッションがない、またはアカウントが既に存在しない場合は(nil, nil)を返す。
func (s *Service) WhoAmI(ctx context.Context, token string) (*model.AccountSummary, error) {
	accountID, ok, err := s.Resolve(ctx, token)
	if err != nil || !ok {
		return nil, err
	}
	return s.Account(ctx, accountID)
}

// Account は解決済みのアカウントIDからアカウントを取得する。存在しない場合は(nil, nil)。
func (s *Service) Account(ctx context.Context, accountID string) (*model.AccountSummary, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, s.fail("whoami", serverError(fmt.Errorf("failed to find account: %w", err)))
	}
	if account == nil {
		return nil, nil
	}
	return account.Summary(), nil
}

// LoginURL はIdPの認可URLを返す。
func (s *Service) LoginURL(state string) string {
	return s.idp.LoginURL(state)
}

// ExchangeCode は認可コードをIdPのプロフィールに交換する。
func (s *Service) ExchangeCode(ctx context.Context, code string) (Profile, error) {
	if strings.TrimSpace(code) == "" {
		return Profile{}, fmt.Errorf("authorization code is empty")
	}
	profile, err := s.idp.ExchangeCode(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return profile, nil
}

func (s *Service) establish(ctx context.Context, account *model.Account) (*LoginResult, error) {
	token, session, err := s.sessions.Establish(ctx, account)
	if err != nil {
		return nil, s.fail("establish", serverError(fmt.Errorf("%w: %w", ErrSessionNotEstablished, err)))
	}
	s.metrics.RecordSessionEstablished()
	slog.Info("session established", slog.String("account_id", account.ID))
	return &LoginResult{
		Token:   token,
		Session: session,
		Account: account.Summary(),
	}, nil
}

// fail はサーバーエラーの詳細をログに残してそのまま返す。
func (s *Service) fail(op string, err *AuthError) *AuthError {
	slog.Error("auth operation failed",
		slog.String("operation", op),
		slog.String("error", err.Err.Error()),
	)
	return err
}
