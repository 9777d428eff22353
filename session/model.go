package session

import "time"

// Session is one refresh-token family. The id is stable across rotations.
type Session struct {
	ID          string
	UserID      string
	RefreshHash [32]byte
	Fingerprint Fingerprint

	CreatedAt int64
	RotatedAt int64
	ExpiresAt int64
}

// Expired reports whether the session lifetime has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

// TTL is the remaining lifetime at now, never negative.
func (s *Session) TTL(now time.Time) time.Duration {
	d := time.Unix(s.ExpiresAt, 0).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
