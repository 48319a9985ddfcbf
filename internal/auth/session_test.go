package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/apexauth/internal/model"
	"github.com/hitoshi/apexauth/internal/repository"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestSessions(resave bool) (*SessionManager, *repository.MemorySessionStore, *testClock) {
	clock := &testClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	store := repository.NewMemorySessionStore(clock.Now)
	m := NewSessionManager(store, WithClock(clock.Now), WithResave(resave))
	return m, store, clock
}

func TestSessionManager_EstablishResolveDestroy(t *testing.T) {
	m, store, clock := newTestSessions(false)
	ctx := context.Background()
	account := &model.Account{ID: "acc-1"}

	token, session, err := m.Establish(ctx, account)
	if err != nil {
		t.Fatalf("Establish error: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}
	if !session.ExpiresAt.Equal(clock.now.Add(DefaultSessionTTL)) {
		t.Errorf("ExpiresAt = %v, want now+24h", session.ExpiresAt)
	}

	id, ok, err := m.Resolve(ctx, token)
	if err != nil || !ok || id != "acc-1" {
		t.Fatalf("Resolve = (%q, %v, %v), want (acc-1, true, nil)", id, ok, err)
	}

	if err := m.Destroy(ctx, token); err != nil {
		t.Fatalf("Destroy error: %v", err)
	}
	if err := m.Destroy(ctx, token); err != nil {
		t.Fatalf("second Destroy must be a no-op, got %v", err)
	}
	if n := remainingSessions(t, store); n != 0 {
		t.Errorf("store still holds %d sessions", n)
	}

	id, ok, err = m.Resolve(ctx, token)
	if err != nil || ok || id != "" {
		t.Errorf("Resolve after Destroy = (%q, %v, %v)", id, ok, err)
	}
}

func TestSessionManager_TokensAreUnique(t *testing.T) {
	m, _, _ := newTestSessions(false)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _, err := m.Establish(context.Background(), &model.Account{ID: "acc-1"})
		if err != nil {
			t.Fatalf("Establish error: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}

func TestSessionManager_ExpiresWithoutResave(t *testing.T) {
	m, _, clock := newTestSessions(false)
	ctx := context.Background()
	token, _, _ := m.Establish(ctx, &model.Account{ID: "acc-1"})

	clock.Advance(23 * time.Hour)
	if _, ok, _ := m.Resolve(ctx, token); !ok {
		t.Fatal("session should be valid before TTL")
	}

	clock.Advance(time.Hour)
	if _, ok, _ := m.Resolve(ctx, token); ok {
		t.Error("session should be expired at TTL")
	}
}

// resave有効時は解決のたびにストア側の期限が延びること
func TestSessionManager_ResaveExtendsStoreExpiry(t *testing.T) {
	m, store, clock := newTestSessions(true)
	ctx := context.Background()
	token, _, _ := m.Establish(ctx, &model.Account{ID: "acc-1"})

	clock.Advance(20 * time.Hour)
	if _, ok, _ := m.Resolve(ctx, token); !ok {
		t.Fatal("session should be valid")
	}
	clock.Advance(20 * time.Hour)
	if _, ok, _ := m.Resolve(ctx, token); !ok {
		t.Fatal("resaved session should still be valid 40h after establishment")
	}

	stored, _ := store.FindByID(ctx, token)
	if !stored.ExpiresAt.Equal(clock.now.Add(DefaultSessionTTL)) {
		t.Errorf("ExpiresAt = %v, want %v", stored.ExpiresAt, clock.now.Add(DefaultSessionTTL))
	}
}

func TestSessionManager_ResolveEmptyOrUnknown(t *testing.T) {
	m, _, _ := newTestSessions(true)
	for _, token := range []string{"", "deadbeef"} {
		id, ok, err := m.Resolve(context.Background(), token)
		if err != nil || ok || id != "" {
			t.Errorf("Resolve(%q) = (%q, %v, %v)", token, id, ok, err)
		}
	}
}

func TestSessionManager_WithTTL(t *testing.T) {
	m := NewSessionManager(&mockSessionStore{}, WithTTL(time.Hour), WithTTL(0))
	if m.TTL() != time.Hour {
		t.Errorf("TTL = %v, want 1h", m.TTL())
	}
}

// ストアのエラーは握りつぶさないこと
func TestSessionManager_StoreErrorsPropagate(t *testing.T) {
	dbErr := errors.New("db down")
	live := &model.Session{ID: "tok", AccountID: "acc-1", ExpiresAt: time.Now().Add(time.Hour)}

	store := &mockSessionStore{
		createFn:     func(context.Context, *model.Session) error { return dbErr },
		findByIDFn:   func(context.Context, string) (*model.Session, error) { return nil, dbErr },
		deleteByIDFn: func(context.Context, string) error { return dbErr },
	}
	m := NewSessionManager(store)
	ctx := context.Background()

	if _, _, err := m.Establish(ctx, &model.Account{ID: "acc-1"}); !errors.Is(err, dbErr) {
		t.Errorf("Establish error = %v", err)
	}
	if _, _, err := m.Resolve(ctx, "tok"); !errors.Is(err, dbErr) {
		t.Errorf("Resolve error = %v", err)
	}
	if err := m.Destroy(ctx, "tok"); !errors.Is(err, dbErr) {
		t.Errorf("Destroy error = %v", err)
	}

	touchStore := &mockSessionStore{
		findByIDFn: func(context.Context, string) (*model.Session, error) { return live, nil },
		touchFn:    func(context.Context, string, time.Time) error { return dbErr },
	}
	m = NewSessionManager(touchStore, WithResave(true))
	if _, ok, err := m.Resolve(ctx, "tok"); ok || !errors.Is(err, dbErr) {
		t.Errorf("Resolve with failing Touch = (%v, %v)", ok, err)
	}
}

func TestToTokenFromToken(t *testing.T) {
	account := &model.Account{ID: "acc-1", Email: "ada@example.com"}
	token := ToToken(account)
	if token != "acc-1" {
		t.Errorf("ToToken = %q", token)
	}
	if got := FromToken(&model.Session{AccountID: token}); got != "acc-1" {
		t.Errorf("FromToken = %q", got)
	}
}
