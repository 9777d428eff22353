package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/mfa"
)

// EnableTwoFactorInit starts TOTP enrollment. The secret is parked in a challenge and
// nothing durable changes until EnableTwoFactorComplete.
func (e *Engine) EnableTwoFactorInit(ctx context.Context, userID string) (setup TwoFactorSetup, err error) {
	ctx, span := e.startSpan(ctx, "EnableTwoFactorInit")
	defer endSpan(span, &err)

	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	enrollment, err := e.mfa.EnrollInit(ctx, user)
	if err != nil {
		return TwoFactorSetup{}, mapTwoFactorErr(err, ErrOTPInvalid)
	}
	return TwoFactorSetup{
		ChallengeID: enrollment.ChallengeID,
		Secret:      enrollment.Secret,
		URL:         enrollment.URL,
		QRCodePNG:   enrollment.QRCodePNG,
		ExpiresAt:   enrollment.ExpiresAt,
	}, nil
}

// EnableTwoFactorComplete confirms enrollment with a first code and returns the
// recovery codes. They are shown once.
func (e *Engine) EnableTwoFactorComplete(ctx context.Context, userID, challengeID, otp string) (codes []string, err error) {
	ctx, span := e.startSpan(ctx, "EnableTwoFactorComplete")
	defer endSpan(span, &err)

	owner, err := e.mfa.EnrollOwner(ctx, challengeID)
	if err != nil {
		return nil, mapTwoFactorErr(err, ErrOTPInvalid)
	}
	if owner != userID {
		return nil, ErrOTPInvalid
	}

	_, codes, err = e.mfa.EnrollComplete(ctx, challengeID, otp)
	if err != nil {
		e.metricInc(metrics.TwoFactorFailure)
		return nil, mapTwoFactorErr(err, ErrOTPInvalid)
	}
	e.metricInc(metrics.TwoFactorEnabled)
	e.emit(ctx, auditRecord{event: "two_factor_enabled", severity: AuditWarning, userID: userID, success: true})
	return codes, nil
}

// DisableTwoFactor turns TOTP off and deletes every recovery code. It needs both the
// password and a fresh code; either failing returns ErrDisableFailed.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, plain, otp string) (err error) {
	ctx, span := e.startSpan(ctx, "DisableTwoFactor")
	defer endSpan(span, &err)

	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.reauthenticate(ctx, user, plain)
	if err != nil {
		return err
	}
	if !ok {
		return e.disableFailed(ctx, userID, "password")
	}

	err = e.mfa.Disable(ctx, user, otp)
	switch {
	case err == nil:
	case errors.Is(err, mfa.ErrChallengeLocked):
		return ErrTwoFactorLocked
	case errors.Is(err, mfa.ErrInvalidCode), errors.Is(err, mfa.ErrNotEnrolled):
		return e.disableFailed(ctx, userID, "otp")
	default:
		return unavailable(err)
	}

	e.metricInc(metrics.TwoFactorDisabled)
	e.emit(ctx, auditRecord{event: "two_factor_disabled", severity: AuditWarning, userID: userID, success: true})
	return nil
}

// disableFailed records which check failed for the audit trail only.
func (e *Engine) disableFailed(ctx context.Context, userID, check string) error {
	e.metricInc(metrics.TwoFactorDisableFailed)
	e.emit(ctx, auditRecord{
		event:    "two_factor_disable_failed",
		severity: AuditWarning,
		userID:   userID,
		err:      ErrDisableFailed,
		meta:     map[string]string{"check": check},
	})
	return ErrDisableFailed
}

// RegenerateRecoveryCodes replaces every recovery code after a fresh TOTP code.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, userID, otp string) (codes []string, err error) {
	ctx, span := e.startSpan(ctx, "RegenerateRecoveryCodes")
	defer endSpan(span, &err)

	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MFAEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	codes, err = e.mfa.Regenerate(ctx, user, otp)
	if err != nil {
		return nil, mapTwoFactorErr(err, ErrOTPInvalid)
	}
	e.metricInc(metrics.RecoveryCodesRegenerated)
	e.emit(ctx, auditRecord{event: "recovery_codes_regenerated", severity: AuditWarning, userID: userID, success: true})
	return codes, nil
}

// RecoveryCodesRemaining reports how many unused recovery codes userID holds.
func (e *Engine) RecoveryCodesRemaining(ctx context.Context, userID string) (int, error) {
	n, err := e.mfa.RemainingCodes(ctx, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}
