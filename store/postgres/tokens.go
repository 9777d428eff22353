package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/store"
)

func (s *Store) IssueToken(ctx context.Context, t *store.OneTimeToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	return withTx(ctx, s.db, func(tx DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM one_time_tokens WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL`,
			t.UserID, t.Purpose.String()); err != nil {
			return unavailable(err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO one_time_tokens (id, user_id, purpose, token_hash, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, t.UserID, t.Purpose.String(), t.Hash[:], t.CreatedAt, t.ExpiresAt); err != nil {
			return unavailable(err)
		}
		return nil
	})
}

func (s *Store) LatestToken(ctx context.Context, userID string, purpose store.Purpose) (*store.OneTimeToken, error) {
	query :=
		`SELECT id, token_hash, created_at, expires_at FROM one_time_tokens
		 WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`

	t := &store.OneTimeToken{UserID: userID, Purpose: purpose}
	var hash []byte
	err := s.db.QueryRowContext(ctx, query, userID, purpose.String()).Scan(&t.ID, &hash, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	copy(t.Hash[:], hash)
	return t, nil
}

// ConsumeToken is a single conditional UPDATE, so two concurrent consumers cannot both
// see the row as unused.
func (s *Store) ConsumeToken(ctx context.Context, id string, purpose store.Purpose, hash [32]byte, now time.Time) (*store.OneTimeToken, error) {
	query :=
		`UPDATE one_time_tokens SET used_at = $4
		 WHERE id = $1 AND purpose = $2 AND token_hash = $3 AND used_at IS NULL AND expires_at > $4
		 RETURNING user_id, created_at, expires_at`

	t := &store.OneTimeToken{ID: id, Purpose: purpose, Hash: hash, UsedAt: now}
	err := s.db.QueryRowContext(ctx, query, id, purpose.String(), hash[:], now).Scan(&t.UserID, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTokenInvalid
		}
		return nil, unavailable(err)
	}
	return t, nil
}
