package memory

import (
	"context"
	"sync"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
)

// UserStore implements store.UserStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type UserStore struct {
	mu sync.RWMutex

	users map[int64]*models.User // identity_id -> User
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		users: make(map[int64]*models.User),
	}
}

// Get retrieves a user by identity.
func (s *UserStore) Get(ctx context.Context, identityID int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[identityID]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	return user.Clone(), nil
}

// Put creates or replaces a user.
func (s *UserStore) Put(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	clone := user.Clone()
	if existing, ok := s.users[user.IdentityID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.users[user.IdentityID] = clone

	return nil
}

// Delete removes a user.
func (s *UserStore) Delete(ctx context.Context, identityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, identityID)
	return nil
}
