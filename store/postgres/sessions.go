package postgres

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/session"
)

// SessionStore implements session.Store with row-level conditional updates.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ session.Store = (*SessionStore)(nil)

const sessionColumns = `id, user_id, refresh_hash, user_agent, network, created_at, rotated_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession reads sessionColumns followed by any extra destinations.
func scanSession(row rowScanner, extra ...any) (*session.Session, error) {
	var (
		sess                            session.Session
		hash                            []byte
		createdAt, rotatedAt, expiresAt time.Time
	)
	dest := []any{&sess.ID, &sess.UserID, &hash, &sess.Fingerprint.UserAgent, &sess.Fingerprint.Network,
		&createdAt, &rotatedAt, &expiresAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	copy(sess.RefreshHash[:], hash)
	sess.CreatedAt = createdAt.Unix()
	sess.RotatedAt = rotatedAt.Unix()
	sess.ExpiresAt = expiresAt.Unix()
	return &sess, nil
}

func sessionUnavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrStoreUnavailable, err)
}

func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	query :=
		`INSERT INTO sessions (` + sessionColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.RefreshHash[:], sess.Fingerprint.UserAgent, sess.Fingerprint.Network,
		time.Unix(sess.CreatedAt, 0).UTC(), time.Unix(sess.RotatedAt, 0).UTC(), time.Unix(sess.ExpiresAt, 0).UTC())
	if err != nil {
		return sessionUnavailable(err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		 WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id, s.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, sessionUnavailable(err)
	}
	return sess, nil
}

// Rotate is a compare-and-swap UPDATE on refresh_hash. When it matches no row the
// current state is read back to tell a stale hash (reuse) from a missing or expired
// session; on reuse the row is revoked.
func (s *SessionStore) Rotate(ctx context.Context, id string, presented, next [32]byte, now time.Time) (*session.Session, error) {
	query :=
		`UPDATE sessions SET refresh_hash = $3, rotated_at = $4
		 WHERE id = $1 AND refresh_hash = $2 AND revoked_at IS NULL AND expires_at > $4
		 RETURNING ` + sessionColumns

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id, presented[:], next[:], now))
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, sessionUnavailable(err)
	}

	var revokedAt sql.NullTime
	current, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`, revoked_at FROM sessions WHERE id = $1`, id), &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, sessionUnavailable(err)
	}
	switch {
	case revokedAt.Valid:
		return nil, session.ErrNotFound
	case current.Expired(now):
		return nil, session.ErrExpired
	case subtle.ConstantTimeCompare(current.RefreshHash[:], presented[:]) == 1:
		// The row changed between the two statements; the caller may retry.
		return nil, session.ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, now); err != nil {
		return nil, sessionUnavailable(err)
	}
	return current, session.ErrReuseDetected
}

func (s *SessionStore) Revoke(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, s.now()); err != nil {
		return sessionUnavailable(err)
	}
	return nil
}

func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2`,
		userID, now)
	if err != nil {
		return 0, sessionUnavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sessionUnavailable(err)
	}
	return int(n), nil
}

func (s *SessionStore) ListForUser(ctx context.Context, userID string) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		 ORDER BY created_at`, userID, s.now())
	if err != nil {
		return nil, sessionUnavailable(err)
	}
	defer rows.Close()

	out := []*session.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, sessionUnavailable(err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, sessionUnavailable(err)
	}
	return out, nil
}
