// Package csrf binds one form token to each browser session.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionRequired is returned when no session id accompanies the request.
var ErrSessionRequired = errors.New("csrf session is required")

// Store keeps session -> token pairs in Redis with a sliding TTL.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStore creates a token store. ttl <= 0 defaults to two hours.
func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration) (*Store, error) {
	if client == nil {
		return nil, errors.New("csrf redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "gestloc:csrf"
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}, nil
}

// NewSessionID returns a random opaque session identifier.
func NewSessionID() (string, error) {
	return randomHex(24)
}

// EnsureToken returns the session's token, creating one on first use.
// The token is stable for the session's lifetime.
func (s *Store) EnsureToken(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", ErrSessionRequired
	}
	key := s.key(sessionID)
	token, err := s.client.Get(ctx, key).Result()
	if err == nil {
		_ = s.client.Expire(ctx, key, s.ttl).Err()
		return token, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("load csrf token: %w", err)
	}
	fresh, err := randomHex(32)
	if err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	created, err := s.client.SetNX(ctx, key, fresh, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	if created {
		return fresh, nil
	}
	// Lost a race with a concurrent request for the same session.
	token, err = s.client.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("load csrf token: %w", err)
	}
	return token, nil
}

// Verify reports whether token matches the session's stored token.
// A missing session or token never verifies.
func (s *Store) Verify(ctx context.Context, sessionID, token string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	token = strings.TrimSpace(token)
	if sessionID == "" || token == "" {
		return false, nil
	}
	stored, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load csrf token: %w", err)
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1, nil
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
