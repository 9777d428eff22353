package authcore

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"time"

	"github.com/MrEthical07/authcore/captcha"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/mailer"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store"
)

// RegisterMessage is the only message Register ever returns on success.
const RegisterMessage = "check your email to finish creating your account"

const maxEmailBytes = 254

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailBytes {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Register creates an unverified account and mails a verification link.
//
// An active account with the same email returns ErrDuplicateAccount. An unverified
// account with a live link gets a fresh link with the same expiry; one whose link has
// expired is purged and recreated with the new password. Disabled accounts are left
// alone. Every non-conflict path returns the same RegisterResult.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (res RegisterResult, err error) {
	ctx, span := e.startSpan(ctx, "Register")
	defer endSpan(span, &err)

	email := store.NormalizeEmail(req.Email)
	if !validEmail(email) {
		return RegisterResult{}, ErrInvalidInput
	}
	if err := password.CheckPolicy(req.Password); err != nil {
		return RegisterResult{}, ErrPasswordPolicy
	}

	ip := clientIPFromContext(ctx)
	if e.config.Captcha.RequireOnRegister {
		err = e.verifyCaptcha(ctx, captcha.ClassHighRisk, req.CaptchaReceipt)
	} else {
		_, err = e.requireCaptcha(ctx, captcha.ClassHighRisk, riskSubject{ip: ip}, req.CaptchaReceipt)
	}
	if err != nil {
		return RegisterResult{}, err
	}
	if err := e.throttle(ctx, e.registerLimiter, email, ip); err != nil {
		return RegisterResult{}, err
	}

	accepted := RegisterResult{Message: RegisterMessage}
	existing, err := e.store.UserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return accepted, e.createPending(ctx, email, req.Password)
	case err != nil:
		return RegisterResult{}, unavailable(err)
	}

	switch existing.Status {
	case store.StatusActive:
		e.metricInc(metrics.RegisterDuplicate)
		return RegisterResult{}, ErrDuplicateAccount
	case store.StatusDisabled:
		e.emit(ctx, auditRecord{event: "register_disabled_account", severity: AuditWarning, userID: existing.ID})
		return accepted, nil
	}

	latest, err := e.store.LatestToken(ctx, existing.ID, store.PurposeEmailVerification)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return RegisterResult{}, unavailable(err)
	}
	if latest != nil && latest.Live(e.now()) {
		if err := e.sendToken(ctx, existing, store.PurposeEmailVerification, latest.ExpiresAt); err != nil {
			return RegisterResult{}, err
		}
		e.metricInc(metrics.RegisterResent)
		return accepted, nil
	}

	// The pending account never verified inside its window: start over.
	if err := e.store.DeleteUser(ctx, existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return RegisterResult{}, unavailable(err)
	}
	e.emit(ctx, auditRecord{event: "register_purged_unverified", userID: existing.ID, success: true})
	return accepted, e.createPending(ctx, email, req.Password)
}

func (e *Engine) createPending(ctx context.Context, email, plain string) error {
	hash, err := e.hasher.Hash(ctx, plain)
	if err != nil {
		return unavailable(err)
	}
	user := &store.User{
		Email:        email,
		Status:       store.StatusUnverified,
		PasswordHash: hash,
	}
	err = e.store.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicateEmail) {
		// A concurrent registration won; it owns the mail.
		return nil
	}
	if err != nil {
		return unavailable(err)
	}
	if err := e.sendToken(ctx, user, store.PurposeEmailVerification, e.now().Add(e.config.EmailVerification.TTL)); err != nil {
		return err
	}
	e.metricInc(metrics.RegisterSuccess)
	e.emit(ctx, auditRecord{event: "register", userID: user.ID, success: true})
	return nil
}

// sendToken issues a one-time token, superseding earlier ones of the same purpose, and
// mails it. A mail failure is logged and swallowed: the caller's response must not
// depend on it.
func (e *Engine) sendToken(ctx context.Context, user *store.User, purpose store.Purpose, expires time.Time) error {
	id, token, hash, err := internal.NewToken()
	if err != nil {
		return unavailable(err)
	}
	now := e.now()
	rec := &store.OneTimeToken{
		ID:        id,
		UserID:    user.ID,
		Purpose:   purpose,
		Hash:      hash,
		CreatedAt: now,
		ExpiresAt: expires,
	}
	if err := e.store.IssueToken(ctx, rec); err != nil {
		return unavailable(err)
	}

	kind := mailer.KindEmailVerification
	if purpose == store.PurposePasswordReset {
		kind = mailer.KindPasswordReset
	}
	msg := mailer.Message{Kind: kind, To: user.Email, Token: token, ExpiresAt: expires}
	if err := e.mailer.Send(ctx, msg); err != nil {
		e.metricInc(metrics.MailFailure)
		e.warn(ctx, "mail delivery failed",
			slog.String("user_id", user.ID),
			slog.String("kind", kind.String()),
			slog.Any("error", err))
	}
	return nil
}

// throttle applies a request limiter. Exhaustion is reported as ErrRateLimited; a
// limiter outage fails closed.
func (e *Engine) throttle(ctx context.Context, l *limiters.RequestLimiter, identifier, ip string) error {
	err := l.Allow(ctx, identifier, ip)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrRequestRateLimited):
		return ErrRateLimited
	default:
		return unavailable(err)
	}
}

// consumeToken redeems an emailed token of purpose. Every failure is invalid.
func (e *Engine) consumeToken(ctx context.Context, token string, purpose store.Purpose, invalid error) (*store.OneTimeToken, error) {
	if err := e.throttle(ctx, e.confirmLimiter, "", clientIPFromContext(ctx)); err != nil {
		return nil, err
	}
	id, secret, err := internal.DecodeToken(token)
	if err != nil {
		return nil, invalid
	}
	rec, err := e.store.ConsumeToken(ctx, id, purpose, internal.HashSecret(secret), e.now())
	if errors.Is(err, store.ErrTokenInvalid) || errors.Is(err, store.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return rec, nil
}

// VerifyEmail activates the account behind an email verification token.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (err error) {
	ctx, span := e.startSpan(ctx, "VerifyEmail")
	defer endSpan(span, &err)

	rec, err := e.consumeToken(ctx, token, store.PurposeEmailVerification, ErrVerificationTokenInvalid)
	if err != nil {
		e.metricInc(metrics.EmailVerificationFailure)
		return err
	}
	user, err := e.store.UserByID(ctx, rec.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrVerificationTokenInvalid
	}
	if err != nil {
		return unavailable(err)
	}
	if user.Status != store.StatusUnverified {
		return ErrVerificationTokenInvalid
	}
	if err := e.store.SetStatus(ctx, user.ID, store.StatusActive); err != nil {
		return unavailable(err)
	}
	e.metricInc(metrics.EmailVerified)
	e.emit(ctx, auditRecord{event: "email_verified", userID: user.ID, success: true})
	return nil
}

// ForgotPassword mails a reset link to an active account. The result never reveals
// whether the account exists: it is nil for unknown, unverified, disabled and throttled
// addresses alike.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, span := e.startSpan(ctx, "ForgotPassword")
	defer endSpan(span, &err)

	email = store.NormalizeEmail(email)
	if !validEmail(email) {
		return ErrInvalidInput
	}
	e.metricInc(metrics.PasswordResetRequest)

	if err := e.throttle(ctx, e.forgotLimiter, email, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return nil
		}
		return err
	}

	user, err := e.store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return unavailable(err)
	}
	if user.Status != store.StatusActive {
		return nil
	}
	if err := e.sendToken(ctx, user, store.PurposePasswordReset, e.now().Add(e.config.PasswordReset.TTL)); err != nil {
		return err
	}
	e.emit(ctx, auditRecord{event: "password_reset_requested", userID: user.ID, success: true})
	return nil
}

// ResetPassword sets a new password from a reset link, revokes every session and clears
// the account lock.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := e.startSpan(ctx, "ResetPassword")
	defer endSpan(span, &err)

	if err := password.CheckPolicy(newPassword); err != nil {
		return ErrPasswordPolicy
	}
	rec, err := e.consumeToken(ctx, token, store.PurposePasswordReset, ErrResetTokenInvalid)
	if err != nil {
		e.metricInc(metrics.PasswordResetFailure)
		return err
	}
	user, err := e.loadActiveUser(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrAccountDisabled) || errors.Is(err, ErrUserNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}
	if err := e.setPassword(ctx, user, newPassword, "password_reset"); err != nil {
		return err
	}
	if err := e.lockout.Unlock(ctx, user.Email); err != nil {
		e.warn(ctx, "unlock after reset failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	e.metricInc(metrics.PasswordResetSuccess)
	return nil
}

// ChangePassword replaces the password of an authenticated user after checking the
// old one, and revokes every session.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (err error) {
	ctx, span := e.startSpan(ctx, "ChangePassword")
	defer endSpan(span, &err)

	if err := password.CheckPolicy(newPassword); err != nil {
		return ErrPasswordPolicy
	}
	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := e.reauthenticate(ctx, user, oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(metrics.PasswordChangeFailure)
		return ErrInvalidCredentials
	}
	if err := e.setPassword(ctx, user, newPassword, "password_change"); err != nil {
		return err
	}
	e.metricInc(metrics.PasswordChangeSuccess)
	return nil
}

func (e *Engine) setPassword(ctx context.Context, user *store.User, plain, reason string) error {
	hash, err := e.hasher.Hash(ctx, plain)
	if err != nil {
		return unavailable(err)
	}
	if err := e.store.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return unavailable(err)
	}
	if err := e.revokeAll(ctx, user.ID, reason); err != nil {
		return err
	}
	e.emit(ctx, auditRecord{event: reason, severity: AuditWarning, userID: user.ID, success: true})
	return nil
}

// DisableUser blocks an account and revokes its sessions.
func (e *Engine) DisableUser(ctx context.Context, userID string) error {
	return e.setStatus(ctx, userID, store.StatusDisabled)
}

// EnableUser reactivates a disabled account.
func (e *Engine) EnableUser(ctx context.Context, userID string) error {
	return e.setStatus(ctx, userID, store.StatusActive)
}

func (e *Engine) setStatus(ctx context.Context, userID string, status store.Status) error {
	if userID == "" {
		return ErrInvalidInput
	}
	err := e.store.SetStatus(ctx, userID, status)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return unavailable(err)
	}
	if status == store.StatusDisabled {
		e.metricInc(metrics.AccountDisabled)
		if err := e.revokeAll(ctx, userID, "account_disabled"); err != nil {
			return err
		}
	}
	e.emit(ctx, auditRecord{
		event:    "account_status_changed",
		severity: AuditWarning,
		userID:   userID,
		success:  true,
		meta:     map[string]string{"status": status.String()},
	})
	return nil
}

// UnlockAccount clears the lock and failure streak of email. Lock history stays so a
// later lock still escalates.
func (e *Engine) UnlockAccount(ctx context.Context, email string) error {
	email = store.NormalizeEmail(email)
	if email == "" {
		return ErrInvalidInput
	}
	if err := e.lockout.Unlock(ctx, email); err != nil {
		return unavailable(err)
	}
	e.emit(ctx, auditRecord{event: "account_unlocked", severity: AuditWarning, success: true})
	return nil
}
