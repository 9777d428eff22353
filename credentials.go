package authcore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store"
)

// CredentialKind names which proof satisfied an authentication.
type CredentialKind uint8

const (
	CredentialPassword CredentialKind = iota + 1
	CredentialRecoveryCode
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialPassword:
		return "password"
	case CredentialRecoveryCode:
		return "recovery_code"
	default:
		return "unknown"
	}
}

// Credential is a closed set of login proofs. Only this package defines variants.
type Credential interface {
	Kind() CredentialKind
	sealed()
}

// PasswordCredential proves identity with an email and password.
type PasswordCredential struct {
	Email    string
	Password string
}

func (PasswordCredential) Kind() CredentialKind { return CredentialPassword }
func (PasswordCredential) sealed()              {}

// RecoveryCodeCredential redeems a recovery code against a pending login challenge.
type RecoveryCodeCredential struct {
	ChallengeID string
	Code        string
}

func (RecoveryCodeCredential) Kind() CredentialKind { return CredentialRecoveryCode }
func (RecoveryCodeCredential) sealed()              {}

// Verified is the outcome of a successful credential check.
type Verified struct {
	User *store.User
	Kind CredentialKind
	// RecoveryCodes holds the rotated remaining codes after a recovery-code login.
	RecoveryCodes []string
}

// CredentialVerifier checks any Credential variant. *Engine implements it.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, cred Credential) (Verified, error)
}

var _ CredentialVerifier = (*Engine)(nil)

// VerifyCredential checks cred without issuing a session. Lockout counters and the
// recovery-code rotation are applied exactly as during a login.
func (e *Engine) VerifyCredential(ctx context.Context, cred Credential) (Verified, error) {
	switch c := cred.(type) {
	case PasswordCredential:
		user, err := e.verifyPassword(ctx, c)
		if err != nil {
			return Verified{}, err
		}
		return Verified{User: user, Kind: CredentialPassword}, nil
	case RecoveryCodeCredential:
		user, codes, err := e.verifyRecoveryCode(ctx, c)
		if err != nil {
			return Verified{}, err
		}
		return Verified{User: user, Kind: CredentialRecoveryCode, RecoveryCodes: codes}, nil
	default:
		return Verified{}, ErrInvalidInput
	}
}

// verifyPassword runs lockout, the Argon2 comparison and the account status checks.
// Unknown accounts and wrong passwords are indistinguishable to the caller and cost the
// same hashing work.
func (e *Engine) verifyPassword(ctx context.Context, c PasswordCredential) (*store.User, error) {
	email := store.NormalizeEmail(c.Email)
	if email == "" || c.Password == "" || len(c.Password) > password.MaxBytes {
		return nil, ErrInvalidInput
	}
	ip := clientIPFromContext(ctx)

	if err := e.lockout.Check(ctx, email, ip); err != nil {
		if errors.Is(err, limiters.ErrLocked) {
			e.metricInc(metrics.LoginLocked)
			return nil, ErrAccountLocked
		}
		return nil, unavailable(err)
	}

	user, err := e.store.UserByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, unavailable(err)
	}

	hash := e.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	ok, verr := e.hasher.Verify(ctx, c.Password, hash)
	if verr != nil && !errors.Is(verr, password.ErrInvalidHash) {
		return nil, unavailable(verr)
	}
	if user == nil || !ok {
		return nil, e.passwordFailure(ctx, email, ip, user)
	}

	switch user.Status {
	case store.StatusUnverified:
		e.metricInc(metrics.LoginUnverified)
		return nil, ErrAccountUnverified
	case store.StatusDisabled:
		e.metricInc(metrics.AccountDisabled)
		return nil, ErrAccountDisabled
	}

	if err := e.lockout.RecordSuccess(ctx, email); err != nil {
		e.warn(ctx, "lockout reset failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	e.upgradeHash(ctx, user, c.Password)
	return user, nil
}

func (e *Engine) passwordFailure(ctx context.Context, email, ip string, user *store.User) error {
	e.metricInc(metrics.LoginFailure)
	userID := ""
	if user != nil {
		userID = user.ID
	}
	e.recordLockFailure(ctx, email, ip, userID)
	e.emit(ctx, auditRecord{event: "login_failure", userID: userID, err: ErrInvalidCredentials})
	return ErrInvalidCredentials
}

// reauthenticate checks plain against the hash of a user that already holds a session.
// It goes through the same lockout as Login, so a stolen access token cannot be used to
// guess the password. A wrong password reports false with a nil error.
func (e *Engine) reauthenticate(ctx context.Context, user *store.User, plain string) (bool, error) {
	ip := clientIPFromContext(ctx)
	if err := e.lockout.Check(ctx, user.Email, ip); err != nil {
		if errors.Is(err, limiters.ErrLocked) {
			e.metricInc(metrics.LoginLocked)
			return false, ErrAccountLocked
		}
		return false, unavailable(err)
	}

	ok, err := e.hasher.Verify(ctx, plain, user.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) {
		return false, unavailable(err)
	}
	if !ok {
		e.recordLockFailure(ctx, user.Email, ip, user.ID)
		return false, nil
	}
	if err := e.lockout.RecordSuccess(ctx, user.Email); err != nil {
		e.warn(ctx, "lockout reset failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	return true, nil
}

func (e *Engine) recordLockFailure(ctx context.Context, email, ip, userID string) {
	failure, err := e.lockout.RecordFailure(ctx, email, ip)
	if err != nil {
		e.warn(ctx, "lockout record failed", slog.String("ip", ip), slog.Any("error", err))
	}
	if len(failure.Locked) > 0 {
		e.metricInc(metrics.LockoutApplied)
		scopes := ""
		for i, s := range failure.Locked {
			if i > 0 {
				scopes += ","
			}
			scopes += s.String()
		}
		e.emit(ctx, auditRecord{
			event:    "lockout_applied",
			severity: AuditWarning,
			userID:   userID,
			meta:     map[string]string{"scopes": scopes, "duration": failure.Duration.String()},
		})
	}
}

func (e *Engine) upgradeHash(ctx context.Context, user *store.User, plain string) {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	hash, err := e.hasher.Hash(ctx, plain)
	if err == nil {
		err = e.store.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		e.warn(ctx, "password rehash failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}
	user.PasswordHash = hash
}

func (e *Engine) verifyRecoveryCode(ctx context.Context, c RecoveryCodeCredential) (*store.User, []string, error) {
	if c.ChallengeID == "" || c.Code == "" {
		return nil, nil, ErrRecoveryCodeInvalid
	}
	userID, codes, err := e.mfa.RecoverChallenge(ctx, c.ChallengeID, c.Code)
	if err != nil {
		e.metricInc(metrics.RecoveryCodeFailed)
		return nil, nil, mapTwoFactorErr(err, ErrRecoveryCodeInvalid)
	}
	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	e.metricInc(metrics.RecoveryCodeUsed)
	return user, codes, nil
}

// mapTwoFactorErr reclassifies mfa errors. invalid is the error reported for wrong
// codes and dead challenges alike.
func mapTwoFactorErr(err, invalid error) error {
	switch {
	case errors.Is(err, mfa.ErrChallengeLocked):
		return ErrTwoFactorLocked
	case errors.Is(err, mfa.ErrInvalidCode),
		errors.Is(err, mfa.ErrChallengeInvalid),
		errors.Is(err, mfa.ErrNotEnrolled):
		return invalid
	case errors.Is(err, mfa.ErrAlreadyEnrolled):
		return ErrTwoFactorAlreadyEnabled
	default:
		return unavailable(err)
	}
}
