// Package auth は認証ストラテジー、セッション管理、認証フローのオーケストレーションを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hitoshi/apexauth/internal/model"
)

// 登録済みストラテジー名
const (
	StrategyLocal     = "local"
	StrategyFederated = "federated"
)

// ErrUnsupportedInput はストラテジーが扱えない種類の入力を受け取った場合に返る。
var ErrUnsupportedInput = errors.New("unsupported input for strategy")

// OutcomeKind は認証試行の結果の種類。
type OutcomeKind int

const (
	// OutcomeSuccess は本人確認に成功したことを表す。
	OutcomeSuccess OutcomeKind = iota + 1
	// OutcomeFailure は入力が誤っていたことを表す。Reasonはそのままユーザーに返してよい。
	OutcomeFailure
	// OutcomeError は基盤側の障害を表す。Errはユーザーに見せない。
	OutcomeError
)

// String はメトリクスのラベルやログに使う名前を返す。
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome はストラテジーの認証結果。Kindに応じてAccount、Reason、Errのいずれかが設定される。
type Outcome struct {
	Kind    OutcomeKind
	Account *model.Account
	Reason  string
	Err     error
}

// Success は成功結果を生成する。
func Success(account *model.Account) Outcome {
	return Outcome{Kind: OutcomeSuccess, Account: account}
}

// Failure は認証失敗の結果を生成する。
func Failure(reason string) Outcome {
	return Outcome{Kind: OutcomeFailure, Reason: reason}
}

// Errored は基盤エラーの結果を生成する。
func Errored(err error) Outcome {
	return Outcome{Kind: OutcomeError, Err: err}
}

// Input はストラテジーへの入力。CredentialsとProfileのみが実装する。
type Input interface {
	isInput()
}

// Credentials はローカル認証の入力。
type Credentials struct {
	Email    string
	Password string
}

// Profile はIdPから受け取った本人情報。
type Profile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
}

func (Credentials) isInput() {}
func (Profile) isInput() {}

// Strategy は本人確認の方式。
// 実装はローカル（パスワード）とフェデレーテッド（OIDC）の2種類のみ。
type Strategy interface {
	Attempt(ctx context.Context, in Input) Outcome
}

// StrategyConfig は起動時に一度だけ読み込むストラテジーごとの静的設定。
type StrategyConfig struct {
	// ローカル認証でメールアドレスを受け取るリクエストボディのキー。HTTP層が読む
	UsernameField string

	// フェデレーテッド認証のIdP設定
	Issuer       string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

type registryEntry struct {
	config   StrategyConfig
	strategy Strategy
}

// Registry は名前でストラテジーを引き当てる。
// 登録は起動時に行い、以降は並行に参照してよい。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register はストラテジーを登録する。nilや名前の重複は配線ミスなのでパニックする。
func (r *Registry) Register(name string, config StrategyConfig, strategy Strategy) {
	if strategy == nil {
		panic(fmt.Sprintf("auth: nil strategy for %q", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[name]; dup {
		panic(fmt.Sprintf("auth: strategy %q registered twice", name))
	}
	r.entries[name] = registryEntry{config: config, strategy: strategy}
}

// Invoke は指定名のストラテジーで認証を試行する。
// 未登録の名前は配線ミスなのでパニックする。
func (r *Registry) Invoke(ctx context.Context, name string, in Input) Outcome {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("auth: unknown strategy %q", name))
	}
	return entry.strategy.Attempt(ctx, in)
}

// Config は登録時の設定を返す。
func (r *Registry) Config(name string) (StrategyConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry.config, ok
}

// Names は登録済みのストラテジー名を昇順で返す。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
