package store

import (
	"context"
	"errors"

	"github.com/parusinf/timesheets-parus-bot/internal/models"
)

// Sentinel errors for user and session store operations
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// UserStore is the user half of the identity cache.
type UserStore interface {
	// Get retrieves a user by contact identity.
	// Returns ErrUserNotFound if the user doesn't exist.
	Get(ctx context.Context, identityID int64) (*models.User, error)

	// Put creates or replaces the user. Last write wins.
	Put(ctx context.Context, user *models.User) error

	// Delete removes the user. Deleting a missing user is not an error.
	Delete(ctx context.Context, identityID int64) error
}

// SessionStore holds ephemeral conversation state keyed by contact identity.
type SessionStore interface {
	// Get retrieves the session for an identity.
	// Returns ErrSessionNotFound if none exists, ErrSessionExpired if it has lapsed.
	Get(ctx context.Context, identityID int64) (*models.Session, error)

	// Save creates or replaces the session and refreshes its expiry.
	Save(ctx context.Context, session *models.Session) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, identityID int64) error
}
