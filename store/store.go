package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned by CreateUser when the email is taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrTokenInvalid is returned by ConsumeToken for unknown, used, superseded or
	// expired tokens. Callers cannot tell these apart.
	ErrTokenInvalid = errors.New("token invalid or expired")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("store unavailable")
)

// Status is the account lifecycle state.
type Status uint8

const (
	StatusUnverified Status = iota + 1
	StatusActive
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusUnverified:
		return "unverified"
	case StatusActive:
		return "active"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(v string) (Status, error) {
	switch v {
	case "unverified":
		return StatusUnverified, nil
	case "active":
		return StatusActive, nil
	case "disabled":
		return StatusDisabled, nil
	}
	return 0, errors.New("unknown account status " + v)
}

// NormalizeEmail lower-cases and trims an email for lookup and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User is the identity record.
type User struct {
	ID           string
	Email        string
	Status       Status
	PasswordHash string
	MFAEnabled   bool
	// MFASecret is sealed; nil when MFA is off.
	MFASecret []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Purpose separates one-time token families.
type Purpose uint8

const (
	PurposeEmailVerification Purpose = iota + 1
	PurposePasswordReset
)

func (p Purpose) String() string {
	switch p {
	case PurposeEmailVerification:
		return "email_verification"
	case PurposePasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// OneTimeToken is an email verification or password reset token. Only the SHA-256 of
// the secret half is stored.
type OneTimeToken struct {
	ID        string
	UserID    string
	Purpose   Purpose
	Hash      [32]byte
	CreatedAt time.Time
	ExpiresAt time.Time
	// UsedAt is zero until consumed.
	UsedAt time.Time
}

// Live reports whether the token is unused and unexpired at now.
func (t *OneTimeToken) Live(now time.Time) bool {
	return t.UsedAt.IsZero() && now.Before(t.ExpiresAt)
}

// Users is the identity half of the credential store.
type Users interface {
	// CreateUser inserts u; Email must already be normalised.
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	// DeleteUser removes an account and everything it owns.
	DeleteUser(ctx context.Context, id string) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetStatus(ctx context.Context, id string, status Status) error
	// EnableMFA stores the sealed secret, sets the flag and replaces the recovery
	// codes in one step.
	EnableMFA(ctx context.Context, id string, sealedSecret []byte, codes [][32]byte) error
	// DisableMFA clears the secret, the flag and all recovery codes in one step.
	DisableMFA(ctx context.Context, id string) error
}

// Tokens holds one-time tokens.
type Tokens interface {
	// IssueToken stores t and supersedes every earlier unused token of the same user
	// and purpose.
	IssueToken(ctx context.Context, t *OneTimeToken) error
	// LatestToken returns the newest unused token, expired or not.
	LatestToken(ctx context.Context, userID string, purpose Purpose) (*OneTimeToken, error)
	// ConsumeToken marks the token used when id, purpose and hash match and it is
	// live at now. It succeeds at most once per token.
	ConsumeToken(ctx context.Context, id string, purpose Purpose, hash [32]byte, now time.Time) (*OneTimeToken, error)
}

// RotateFunc returns replacement hashes for the n codes that survive a consumption.
type RotateFunc func(n int) ([][32]byte, error)

// RecoveryCodes holds hashed MFA recovery codes.
type RecoveryCodes interface {
	RecoveryCodeCount(ctx context.Context, userID string) (int, error)
	ReplaceRecoveryCodes(ctx context.Context, userID string, codes [][32]byte) error
	// ConsumeRecoveryCode deletes hash and replaces the remaining codes with
	// rotate(remaining) atomically. It returns false when hash is not a live code.
	ConsumeRecoveryCode(ctx context.Context, userID string, hash [32]byte, rotate RotateFunc) (bool, error)
}

// Store is the full durable contract.
type Store interface {
	Users
	Tokens
	RecoveryCodes
}
