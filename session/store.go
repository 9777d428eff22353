package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown or revoked sessions.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when the session lifetime has passed.
	ErrExpired = errors.New("session expired")
	// ErrReuseDetected is returned when a stale refresh hash is presented. The session
	// has already been deleted when this is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrCorrupt is returned when a stored session cannot be decoded.
	ErrCorrupt = errors.New("session record corrupt")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store persists sessions. Implementations must make Rotate a single atomic
// compare-and-swap on RefreshHash.
type Store interface {
	Create(ctx context.Context, s *Session) error
	// Get returns ErrNotFound for missing, revoked or expired sessions.
	Get(ctx context.Context, id string) (*Session, error)
	// Rotate replaces presented with next when presented is the stored hash. On a
	// mismatch it revokes the session and returns the pre-revocation record together
	// with ErrReuseDetected.
	Rotate(ctx context.Context, id string, presented, next [32]byte, now time.Time) (*Session, error)
	// Revoke is idempotent.
	Revoke(ctx context.Context, id string) error
	// RevokeAllForUser returns the number of sessions revoked.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
	ListForUser(ctx context.Context, userID string) ([]*Session, error)
}
