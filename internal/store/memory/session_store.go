package memory

import (
	"context"
	"sync"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
)

// SessionStore implements store.SessionStore using in-memory storage.
// Sessions are ephemeral by nature so this is also the default in production.
type SessionStore struct {
	mu  sync.RWMutex
	ttl time.Duration

	sessions map[int64]*models.Session // identity_id -> Session
}

// NewSessionStore creates a new in-memory session store.
// A zero ttl keeps sessions until they are deleted.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		sessions: make(map[int64]*models.Session),
	}
}

// Get retrieves the session for an identity.
func (s *SessionStore) Get(ctx context.Context, identityID int64) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[identityID]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return session.Clone(), nil
}

// Save creates or replaces the session.
func (s *SessionStore) Save(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := session.Clone()
	clone.UpdatedAt = time.Now()
	clone.ExpiresAt = time.Time{}
	if s.ttl > 0 {
		clone.ExpiresAt = clone.UpdatedAt.Add(s.ttl)
	}
	s.sessions[session.IdentityID] = clone

	return nil
}

// Delete removes the session.
func (s *SessionStore) Delete(ctx context.Context, identityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, identityID)
	return nil
}

// DeleteExpired deletes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, session := range s.sessions {
		if session.IsExpired() {
			delete(s.sessions, id)
			count++
		}
	}

	return count, nil
}
