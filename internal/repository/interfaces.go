// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/apexauth/internal/model"
)

// ErrConflict は一意制約違反（同一メールアドレスのアカウントが既に存在する等）を表す。
var ErrConflict = errors.New("unique constraint conflict")

// AccountRepository はアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
	// emailは呼び出し側で正規化済みであること。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// Create はアカウントを作成する。メールアドレスが重複する場合はErrConflictを返す。
	Create(ctx context.Context, account *model.Account) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderSubject はproviderとsubjectでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderSubject(ctx context.Context, provider, subject string) (*model.Identity, error)

	// Link はidentityを記録する。同じ(provider, subject)が既にあれば何もしない。
	Link(ctx context.Context, identity *model.Identity) error
}

// SessionStore はセッションデータの永続化インターフェース。
type SessionStore interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Touch はセッションの有効期限を書き換える。
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
