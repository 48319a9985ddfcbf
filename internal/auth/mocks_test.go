package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/apexauth/internal/model"
	"github.com/hitoshi/apexauth/internal/repository"
)

// --- モック定義 ---

type mockAccountRepo struct {
	findByEmailFn func(ctx context.Context, email string) (*model.Account, error)
	findByIDFn    func(ctx context.Context, id string) (*model.Account, error)
	createFn      func(ctx context.Context, account *model.Account) error
}

func (m *mockAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockAccountRepo) Create(ctx context.Context, account *model.Account) error {
	if m.createFn != nil {
		return m.createFn(ctx, account)
	}
	return nil
}

type mockIdentityRepo struct {
	linkFn func(ctx context.Context, identity *model.Identity) error
	linked []*model.Identity
	findFn func(ctx context.Context, provider, subject string) (*model.Identity, error)
}

func (m *mockIdentityRepo) FindByProviderSubject(ctx context.Context, provider, subject string) (*model.Identity, error) {
	if m.findFn != nil {
		return m.findFn(ctx, provider, subject)
	}
	return nil, nil
}

func (m *mockIdentityRepo) Link(ctx context.Context, identity *model.Identity) error {
	m.linked = append(m.linked, identity)
	if m.linkFn != nil {
		return m.linkFn(ctx, identity)
	}
	return nil
}

type mockSessionStore struct {
	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	touchFn      func(ctx context.Context, id string, expiresAt time.Time) error
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockSessionStore) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionStore) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	if m.touchFn != nil {
		return m.touchFn(ctx, id, expiresAt)
	}
	return nil
}

func (m *mockSessionStore) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionStore) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type mockIdP struct {
	loginURLFn     func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (Profile, error)
}

func (m *mockIdP) LoginURL(state string) string {
	if m.loginURLFn != nil {
		return m.loginURLFn(state)
	}
	return ""
}

func (m *mockIdP) ExchangeCode(ctx context.Context, code string) (Profile, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return Profile{}, nil
}

// remainingSessions はストアに残るセッションを全て削除し、その件数を返す。
func remainingSessions(t *testing.T, store *repository.MemorySessionStore) int64 {
	t.Helper()
	n, err := store.DeleteExpired(context.Background(), time.Now().AddDate(100, 0, 0))
	if err != nil {
		t.Fatalf("DeleteExpired error: %v", err)
	}
	return n
}

// plainHasher はbcryptを使わずに照合できるテスト用ハッシュ。
type plainHasher struct {
	hashErr error
}

func (h plainHasher) Hash(password string) (string, error) {
	if h.hashErr != nil {
		return "", h.hashErr
	}
	return "hashed:" + password, nil
}

func (h plainHasher) Verify(password, hash string) bool {
	return hash != "" && hash == "hashed:"+password
}

// trimSanitizer は前後の空白だけを除去する。
type trimSanitizer struct{}

func (trimSanitizer) SanitizeName(raw string) string { return strings.TrimSpace(raw) }

// memoryAccountRepo はemailの一意制約を再現するインメモリ実装。
type memoryAccountRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.Account
	byEmail map[string]string
	creates int
	finds   int
}

func newMemoryAccountRepo() *memoryAccountRepo {
	return &memoryAccountRepo{
		byID:    make(map[string]*model.Account),
		byEmail: make(map[string]string),
	}
}

func (r *memoryAccountRepo) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	a := *r.byID[id]
	return &a, nil
}

func (r *memoryAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *memoryAccountRepo) Create(_ context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if _, dup := r.byEmail[account.Email]; dup {
		return repository.ErrConflict
	}
	cp := *account
	r.byID[account.ID] = &cp
	r.byEmail[account.Email] = account.ID
	return nil
}

func (r *memoryAccountRepo) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[id]; ok {
		delete(r.byEmail, a.Email)
		delete(r.byID, id)
	}
}

// --- compile-time interface checks ---
var (
	_ repository.AccountRepository  = (*mockAccountRepo)(nil)
	_ repository.AccountRepository  = (*memoryAccountRepo)(nil)
	_ repository.IdentityRepository = (*mockIdentityRepo)(nil)
	_ repository.SessionStore       = (*mockSessionStore)(nil)
	_ IdentityProvider              = (*mockIdP)(nil)
)
