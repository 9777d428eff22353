package authcore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/authcore/captcha"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/store"
)

// Login authenticates an email and password.
//
// The order is fixed: captcha gate, lockout, password, account status. A user with
// two-factor enabled receives a challenge id instead of tokens.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (res LoginResult, err error) {
	ctx, span := e.startSpan(ctx, "Login")
	defer endSpan(span, &err)

	email := store.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return LoginResult{}, ErrInvalidInput
	}
	subj := riskSubject{account: email, ip: clientIPFromContext(ctx)}
	if _, err := e.requireCaptcha(ctx, captcha.ClassHighRisk, subj, req.CaptchaReceipt); err != nil {
		return LoginResult{}, err
	}

	user, err := e.verifyPassword(ctx, PasswordCredential{Email: email, Password: req.Password})
	if err != nil {
		return LoginResult{}, err
	}

	if user.MFAEnabled {
		id, expires, err := e.mfa.BeginLogin(ctx, user.ID)
		if err != nil {
			return LoginResult{}, unavailable(err)
		}
		e.metricInc(metrics.LoginTwoFactorRequired)
		e.emit(ctx, auditRecord{event: "login_two_factor_required", userID: user.ID, success: true})
		return LoginResult{RequiresTwoFactor: true, ChallengeID: id, ChallengeExpiresAt: expires}, nil
	}

	pair, err := e.issueSession(ctx, user.ID, CredentialPassword.String())
	if err != nil {
		return LoginResult{}, err
	}
	e.metricInc(metrics.LoginSuccess)
	e.emit(ctx, auditRecord{event: "login_success", userID: user.ID, sessionID: pair.SessionID, success: true})
	return LoginResult{Tokens: &pair}, nil
}

// pendingChallenge resolves the user behind a login challenge and runs the captcha gate
// for it. A locked challenge fails before the gate so the caller sees the lock.
func (e *Engine) pendingChallenge(ctx context.Context, challengeID, receipt string, invalid error) (string, error) {
	if challengeID == "" {
		return "", invalid
	}
	userID, err := e.mfa.PendingUser(ctx, challengeID)
	if err != nil {
		if errors.Is(err, mfa.ErrChallengeLocked) {
			e.metricInc(metrics.TwoFactorLocked)
		}
		return "", mapTwoFactorErr(err, invalid)
	}
	subj := riskSubject{userID: userID, ip: clientIPFromContext(ctx)}
	if _, err := e.requireCaptcha(ctx, captcha.ClassHighRisk, subj, receipt); err != nil {
		return "", err
	}
	return userID, nil
}

// clearForced drops the forced-captcha flag once a second factor was accepted.
func (e *Engine) clearForced(ctx context.Context, userID string) {
	if err := e.risk.ClearForcedChallenge(ctx, userID); err != nil {
		e.warn(ctx, "clear forced captcha failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

// VerifyTwoFactor redeems a login challenge with a TOTP code.
//
// Wrong, replayed and expired-challenge codes all return ErrOTPInvalid. The fifth miss
// locks the challenge for five minutes; every later attempt on it must carry a captcha
// receipt until a code is accepted.
func (e *Engine) VerifyTwoFactor(ctx context.Context, req VerifyTwoFactorRequest) (res LoginResult, err error) {
	ctx, span := e.startSpan(ctx, "VerifyTwoFactor")
	defer endSpan(span, &err)

	if _, err := e.pendingChallenge(ctx, req.ChallengeID, req.CaptchaReceipt, ErrOTPInvalid); err != nil {
		return LoginResult{}, err
	}
	if req.OTP == "" {
		return LoginResult{}, ErrOTPInvalid
	}

	userID, err := e.mfa.VerifyChallenge(ctx, req.ChallengeID, req.OTP)
	if err != nil {
		mapped := mapTwoFactorErr(err, ErrOTPInvalid)
		switch {
		case errors.Is(mapped, ErrTwoFactorLocked):
			e.metricInc(metrics.TwoFactorLocked)
			e.emit(ctx, auditRecord{event: "two_factor_locked", severity: AuditWarning, err: mapped})
		case errors.Is(mapped, ErrOTPInvalid):
			e.metricInc(metrics.TwoFactorFailure)
		}
		return LoginResult{}, mapped
	}
	e.clearForced(ctx, userID)

	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return LoginResult{}, err
	}
	pair, err := e.issueSession(ctx, user.ID, "totp")
	if err != nil {
		return LoginResult{}, err
	}
	e.metricInc(metrics.TwoFactorSuccess)
	e.metricInc(metrics.LoginSuccess)
	e.emit(ctx, auditRecord{event: "login_success", userID: user.ID, sessionID: pair.SessionID, success: true, meta: map[string]string{"factor": "totp"}})
	return LoginResult{Tokens: &pair}, nil
}

// RecoveryLogin redeems a login challenge with a recovery code. The remaining codes are
// rotated and returned; the previous set stops working.
func (e *Engine) RecoveryLogin(ctx context.Context, req RecoveryLoginRequest) (res RecoveryLoginResult, err error) {
	ctx, span := e.startSpan(ctx, "RecoveryLogin")
	defer endSpan(span, &err)

	if _, err := e.pendingChallenge(ctx, req.ChallengeID, req.CaptchaReceipt, ErrRecoveryCodeInvalid); err != nil {
		return RecoveryLoginResult{}, err
	}

	verified, err := e.VerifyCredential(ctx, RecoveryCodeCredential{ChallengeID: req.ChallengeID, Code: req.Code})
	if err != nil {
		if errors.Is(err, ErrTwoFactorLocked) {
			e.metricInc(metrics.TwoFactorLocked)
		}
		return RecoveryLoginResult{}, err
	}
	e.clearForced(ctx, verified.User.ID)

	pair, err := e.issueSession(ctx, verified.User.ID, CredentialRecoveryCode.String())
	if err != nil {
		return RecoveryLoginResult{}, err
	}
	e.metricInc(metrics.LoginSuccess)
	e.emit(ctx, auditRecord{
		event:     "recovery_code_login",
		severity:  AuditWarning,
		userID:    verified.User.ID,
		sessionID: pair.SessionID,
		success:   true,
		meta:      map[string]string{"remaining": itoa(len(verified.RecoveryCodes))},
	})
	return RecoveryLoginResult{Tokens: pair, RecoveryCodes: verified.RecoveryCodes}, nil
}
