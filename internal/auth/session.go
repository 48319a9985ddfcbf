package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hitoshi/apexauth/internal/model"
	"github.com/hitoshi/apexauth/internal/repository"
)

// DefaultSessionTTL はセッションの既定有効期間。
const DefaultSessionTTL = 24 * time.Hour

// SessionManager はセッションの発行・解決・破棄を担う。
// セッションには認証済みアカウントのIDのみを保存する。
type SessionManager struct {
	store  repository.SessionStore
	ttl    time.Duration
	resave bool
	nowF   func() time.Time
}

// SessionOption はSessionManagerの設定を変更する。
type SessionOption func(*SessionManager)

// WithTTL はセッションの有効期間を設定する。0以下は無視する。
func WithTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithResave は解決のたびにストア側の有効期限を書き直すかを設定する。
// 有効にすると、利用され続けるセッションはクライアントCookieの期限とは別にストア上で延命される。
func WithResave(resave bool) SessionOption {
	return func(m *SessionManager) {
		m.resave = resave
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(nowF func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if nowF != nil {
			m.nowF = nowF
		}
	}
}

// NewSessionManager はSessionManagerを生成する。既定は有効期間24時間、resave有効。
func NewSessionManager(store repository.SessionStore, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		store:  store,
		ttl:    DefaultSessionTTL,
		resave: true,
		nowF:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL はセッションの有効期間を返す。Cookieの有効期限にも使う。
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// ToToken はセッションに保存するアカウント参照を返す。
func ToToken(account *model.Account) string {
	return account.ID
}

// FromToken は保存済みセッションからアカウント参照を取り出す。
func FromToken(session *model.Session) string {
	return session.AccountID
}

// Establish は新しいセッションを発行し、クライアントに渡す不透明トークンを返す。
func (m *SessionManager) Establish(ctx context.Context, account *model.Account) (string, *model.Session, error) {
	token, err := generateSessionID()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.nowF()
	session := &model.Session{
		ID:        token,
		AccountID: ToToken(account),
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
		TouchedAt: now,
	}

	if err := m.store.Create(ctx, session); err != nil {
		return "", nil, fmt.Errorf("failed to save session: %w", err)
	}

	return token, session, nil
}

// Resolve はトークンに紐づくアカウントIDを返す。
// トークンが空・未知・期限切れの場合は("", false, nil)を返す。ストアのエラーはそのまま返す。
func (m *SessionManager) Resolve(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}

	session, err := m.store.FindByID(ctx, token)
	if err != nil {
		return "", false, fmt.Errorf("failed to find session: %w", err)
	}
	now := m.nowF()
	if session == nil || session.Expired(now) {
		return "", false, nil
	}

	if m.resave {
		if err := m.store.Touch(ctx, token, now.Add(m.ttl)); err != nil {
			return "", false, fmt.Errorf("failed to resave session: %w", err)
		}
	}

	return FromToken(session), true, nil
}

// Destroy はセッションを破棄する。存在しないトークンでもエラーにしない。
func (m *SessionManager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
