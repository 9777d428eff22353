package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/store"
)

const userColumns = `id, email, status, password_hash, mfa_enabled, mfa_secret, created_at, updated_at`

func scanUser(row *sql.Row) (*store.User, error) {
	var (
		u      store.User
		status string
	)
	err := row.Scan(&u.ID, &u.Email, &status, &u.PasswordHash, &u.MFAEnabled, &u.MFASecret, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	if u.Status, err = store.ParseStatus(status); err != nil {
		return nil, unavailable(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	query :=
		`INSERT INTO users (id, email, status, password_hash, mfa_enabled, mfa_secret, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`

	_, err := s.db.ExecContext(ctx, query, u.ID, u.Email, u.Status.String(), u.PasswordHash, u.MFAEnabled, u.MFASecret, now)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEmail
		}
		return unavailable(err)
	}
	return nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*store.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM users WHERE id = $1`, id)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.execOne(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, s.now())
}

func (s *Store) SetStatus(ctx context.Context, id string, status store.Status) error {
	return s.execOne(ctx, `UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`, id, status.String(), s.now())
}

func (s *Store) EnableMFA(ctx context.Context, id string, sealedSecret []byte, codes [][32]byte) error {
	return withTx(ctx, s.db, func(tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET mfa_enabled = TRUE, mfa_secret = $2, updated_at = $3 WHERE id = $1`,
			id, sealedSecret, s.now())
		if err := expectOne(res, err); err != nil {
			return err
		}
		return replaceCodes(ctx, tx, id, codes)
	})
}

func (s *Store) DisableMFA(ctx context.Context, id string) error {
	return withTx(ctx, s.db, func(tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET mfa_enabled = FALSE, mfa_secret = NULL, updated_at = $2 WHERE id = $1`,
			id, s.now())
		if err := expectOne(res, err); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, id); err != nil {
			return unavailable(err)
		}
		return nil
	})
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	return expectOne(res, err)
}

// expectOne maps a zero-row update to store.ErrNotFound.
func expectOne(res sql.Result, err error) error {
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
