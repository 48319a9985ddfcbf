package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/apexauth/internal/model"
)

// MemorySessionStore はプロセス内でセッションを保持するストア。
// 単一インスタンス構成やテストで使う。複数プロセス間では共有されない。
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	nowF     func() time.Time
}

// NewMemorySessionStore はMemorySessionStoreを生成する。
// nowFがnilの場合はtime.Nowを使う。
func NewMemorySessionStore(nowF func() time.Time) *MemorySessionStore {
	if nowF == nil {
		nowF = time.Now
	}
	return &MemorySessionStore{
		sessions: make(map[string]model.Session),
		nowF:     nowF,
	}
}

// Create はセッションを保存する。
func (s *MemorySessionStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

// FindByID は有効なセッションのコピーを返す。期限切れの場合はnilを返す。
func (s *MemorySessionStore) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok || session.Expired(s.nowF()) {
		return nil, nil
	}
	return &session, nil
}

// Touch はセッションの有効期限を書き換える。
func (s *MemorySessionStore) Touch(_ context.Context, id string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	session.ExpiresAt = expiresAt
	session.TouchedAt = s.nowF()
	s.sessions[id] = session
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (s *MemorySessionStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteExpired はbefore時点で期限切れのセッションを削除する。
func (s *MemorySessionStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if session.Expired(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var _ SessionStore = (*MemorySessionStore)(nil)
