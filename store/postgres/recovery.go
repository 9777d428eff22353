package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/MrEthical07/authcore/store"
)

func replaceCodes(ctx context.Context, tx DBTX, userID string, codes [][32]byte) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return unavailable(err)
	}
	for _, c := range codes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recovery_codes (user_id, code_hash) VALUES ($1, $2)`,
			userID, c[:]); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (s *Store) RecoveryCodeCount(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM recovery_codes WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID string, codes [][32]byte) error {
	return withTx(ctx, s.db, func(tx DBTX) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		return replaceCodes(ctx, tx, userID, codes)
	})
}

// ConsumeRecoveryCode locks the user row so consumptions for one user serialise, then
// deletes the code and rewrites the survivors.
func (s *Store) ConsumeRecoveryCode(ctx context.Context, userID string, hash [32]byte, rotate store.RotateFunc) (bool, error) {
	consumed := false
	err := withTx(ctx, s.db, func(tx DBTX) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM recovery_codes WHERE user_id = $1 AND code_hash = $2`, userID, hash[:])
		if err := expectOne(res, err); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}

		var remaining int
		if err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM recovery_codes WHERE user_id = $1`, userID).Scan(&remaining); err != nil {
			return unavailable(err)
		}
		fresh, err := rotate(remaining)
		if err != nil {
			return err
		}
		if err := replaceCodes(ctx, tx, userID, fresh); err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return consumed, nil
}

func lockUser(ctx context.Context, tx DBTX, userID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return unavailable(err)
	}
	return nil
}
