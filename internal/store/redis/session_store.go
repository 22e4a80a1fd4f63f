// Package redis implements the session store on Redis so that conversation
// state is shared by every process behind the webhook.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "tsheebot:session:"

// SessionStore implements store.SessionStore using Redis.
// Values are zstd-compressed JSON since a session may carry a buffered report.
type SessionStore struct {
	client goredis.UniversalClient
	ttl    time.Duration

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewSessionStore creates a Redis-backed session store.
// A zero ttl keeps sessions until they are deleted.
func NewSessionStore(client goredis.UniversalClient, ttl time.Duration) (*SessionStore, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &SessionStore{
		client: client,
		ttl:    ttl,
		enc:    enc,
		dec:    dec,
	}, nil
}

// Close releases the codec resources. The Redis client is owned by the caller.
func (s *SessionStore) Close() {
	s.enc.Close()
	s.dec.Close()
}

// Get retrieves the session for an identity.
func (s *SessionStore) Get(ctx context.Context, identityID int64) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(identityID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	plain, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(plain, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	// Redis expiry normally removes the key first; this covers clock skew
	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return &session, nil
}

// Save creates or replaces the session and refreshes its TTL.
func (s *SessionStore) Save(ctx context.Context, session *models.Session) error {
	clone := session.Clone()
	clone.UpdatedAt = time.Now()
	clone.ExpiresAt = time.Time{}
	if s.ttl > 0 {
		clone.ExpiresAt = clone.UpdatedAt.Add(s.ttl)
	}

	plain, err := json.Marshal(clone)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	raw := s.enc.EncodeAll(plain, nil)
	if err := s.client.Set(ctx, sessionKey(session.IdentityID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	log.Debug().
		Int64("identity_id", session.IdentityID).
		Str("state", string(session.State)).
		Int("bytes", len(raw)).
		Msg("Saved session")

	return nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *SessionStore) Delete(ctx context.Context, identityID int64) error {
	if err := s.client.Del(ctx, sessionKey(identityID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func sessionKey(identityID int64) string {
	return keyPrefix + strconv.FormatInt(identityID, 10)
}
