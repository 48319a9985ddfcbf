package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/apexauth/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderSubject はproviderとsubjectでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderSubject(ctx context.Context, provider, subject string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, provider, subject, created_at
		 FROM identities
		 WHERE provider = $1 AND subject = $2`,
		provider, subject,
	).Scan(&identity.ID, &identity.AccountID, &identity.Provider, &identity.Subject, &identity.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	return identity, nil
}

// Link はidentityを記録する。(provider, subject)が既に存在する場合は何もしない。
func (r *PostgresIdentityRepo) Link(ctx context.Context, identity *model.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, account_id, provider, subject, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider, subject) DO NOTHING`,
		identity.ID, identity.AccountID, identity.Provider, identity.Subject, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to link identity: %w", err)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
