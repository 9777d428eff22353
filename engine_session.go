package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/captcha"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
)

// Refresh rotates a refresh token.
//
// Presenting a token that was already rotated revokes every session of its owner and
// returns ErrTokenReuse. A changed client fingerprint is advisory by default: the new
// IP is marked elevated so its next credential operation needs a captcha.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (pair TokenPair, err error) {
	ctx, span := e.startSpan(ctx, "Refresh")
	defer endSpan(span, &err)

	if refreshToken == "" {
		return TokenPair{}, ErrTokenInvalid
	}

	rot, err := e.sessions.Rotate(ctx, refreshToken, fingerprintFromContext(ctx))
	if err != nil {
		return TokenPair{}, e.refreshFailure(ctx, rot, err)
	}

	if rot.Drift != session.DriftNone {
		e.metricInc(metrics.BindingDrift)
		if ip := clientIPFromContext(ctx); ip != "" {
			if err := e.risk.MarkIPElevated(ctx, ip, e.config.Session.ElevatedIPTTL); err != nil {
				e.warn(ctx, "mark elevated ip failed", slog.String("ip", ip), slog.Any("error", err))
			}
		}
		e.emit(ctx, auditRecord{
			event:     "session_binding_drift",
			severity:  AuditWarning,
			userID:    rot.UserID,
			sessionID: rot.SessionID,
			success:   true,
			meta:      map[string]string{"drift": rot.Drift.String()},
		})
	}

	e.metricInc(metrics.RefreshSuccess)
	return tokenPair(rot.Pair), nil
}

func (e *Engine) refreshFailure(ctx context.Context, rot session.Rotation, err error) error {
	switch {
	case errors.Is(err, session.ErrReuseDetected):
		e.metricInc(metrics.RefreshReuseDetected)
		e.emit(ctx, auditRecord{
			event:    "refresh_reuse_detected",
			severity: AuditCritical,
			userID:   rot.UserID,
			err:      err,
			meta:     map[string]string{"revoked": itoa(rot.Revoked)},
		})
		return ErrTokenReuse
	case errors.Is(err, session.ErrBindingMismatch):
		e.metricInc(metrics.BindingRejected)
		e.emit(ctx, auditRecord{event: "session_binding_rejected", severity: AuditWarning, userID: rot.UserID, err: err})
		return ErrSessionBindingMismatch
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrCorrupt):
		e.metricInc(metrics.RefreshFailure)
		return ErrTokenInvalid
	default:
		e.metricInc(metrics.RefreshFailure)
		return unavailable(err)
	}
}

// Logout revokes the session behind refreshToken. Logging out an already revoked
// session succeeds.
func (e *Engine) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, span := e.startSpan(ctx, "Logout")
	defer endSpan(span, &err)

	userID, err := e.sessions.RevokeToken(ctx, refreshToken)
	if errors.Is(err, session.ErrInvalidToken) {
		return ErrTokenInvalid
	}
	if err != nil {
		return unavailable(err)
	}
	if userID != "" {
		e.metricInc(metrics.Logout)
		e.emit(ctx, auditRecord{event: "logout", userID: userID, success: true})
	}
	return nil
}

// LogoutAll revokes every session of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (err error) {
	ctx, span := e.startSpan(ctx, "LogoutAll")
	defer endSpan(span, &err)

	if userID == "" {
		return ErrInvalidInput
	}
	if err := e.revokeAll(ctx, userID, "logout_all"); err != nil {
		return err
	}
	e.metricInc(metrics.LogoutAll)
	return nil
}

// ValidateAccess verifies an access token against the keyset. It does not consult the
// session store; use ValidateSession when a revoked session must fail at once.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*jwt.AccessClaims, error) {
	start := time.Now()
	defer func() { e.metrics.Observe(metrics.ValidateLatency, time.Since(start)) }()

	claims, err := e.keys.Verify(accessToken)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrKeyExpired):
		e.metricInc(metrics.KeyExpiredRejected)
		return nil, ErrKeyExpired
	case errors.Is(err, jwt.ErrUnknownKey):
		return nil, ErrKeyRotationMismatch
	default:
		return nil, ErrAccessTokenInvalid
	}
}

// ValidateSession verifies an access token and requires its session to be live.
func (e *Engine) ValidateSession(ctx context.Context, accessToken string) (*jwt.AccessClaims, error) {
	claims, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	err = e.sessions.Active(ctx, claims.UserID(), claims.SID)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		return nil, ErrAccessTokenInvalid
	default:
		return nil, unavailable(err)
	}
}

// ListSessions returns the live sessions of userID. It is a low-risk read: a flagged IP
// must present a receipt via WithCaptchaReceipt, but a captcha outage lets it through.
func (e *Engine) ListSessions(ctx context.Context, userID string) (out []SessionInfo, err error) {
	ctx, span := e.startSpan(ctx, "ListSessions")
	defer endSpan(span, &err)

	if userID == "" {
		return nil, ErrInvalidInput
	}
	subj := riskSubject{ip: clientIPFromContext(ctx)}
	if _, err := e.requireCaptcha(ctx, captcha.ClassLowRisk, subj, captchaReceiptFromContext(ctx)); err != nil {
		return nil, err
	}

	sessions, err := e.sessions.List(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	out = make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:        s.ID,
			UserAgent: s.Fingerprint.UserAgent,
			Network:   s.Fingerprint.Network,
			CreatedAt: time.Unix(s.CreatedAt, 0).UTC(),
			RotatedAt: time.Unix(s.RotatedAt, 0).UTC(),
			ExpiresAt: time.Unix(s.ExpiresAt, 0).UTC(),
		})
	}
	return out, nil
}

// RevokeSession ends one session owned by userID.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := e.sessions.Active(ctx, userID, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
			return nil
		}
		return unavailable(err)
	}
	if err := e.sessions.Revoke(ctx, sessionID); err != nil {
		return unavailable(err)
	}
	e.metricInc(metrics.SessionRevoked)
	e.emit(ctx, auditRecord{event: "session_revoked", userID: userID, sessionID: sessionID, success: true})
	return nil
}

// PromoteSigningKey shifts NEXT to CURRENT and CURRENT to PREVIOUS, and generates a
// fresh NEXT. Tokens signed by the old CURRENT keep verifying for the grace window.
func (e *Engine) PromoteSigningKey(ctx context.Context) error {
	if err := e.keys.Promote(); err != nil {
		return unavailable(err)
	}
	e.metricInc(metrics.KeyPromoted)
	e.emit(ctx, auditRecord{event: "signing_key_promoted", success: true})
	return nil
}

// JWKS publishes the public halves of the keyset.
func (e *Engine) JWKS() jwt.JWKS {
	return e.keys.JWKS()
}
