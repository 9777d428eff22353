package authcore

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/captcha"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/metrics"
)

type captchaReceiptContextKey struct{}

// WithCaptchaReceipt attaches a captcha receipt to ctx for operations whose signature
// has no receipt field, such as ListSessions.
func WithCaptchaReceipt(ctx context.Context, receipt string) context.Context {
	return context.WithValue(ctx, captchaReceiptContextKey{}, receipt)
}

func captchaReceiptFromContext(ctx context.Context) string {
	receipt, _ := ctx.Value(captchaReceiptContextKey{}).(string)
	return receipt
}

// riskSubject names the counters consulted for one captcha decision.
type riskSubject struct {
	// account keys the lockout counters (the normalised email).
	account string
	// userID keys the forced-challenge flag.
	userID string
	ip     string
}

func (e *Engine) captchaSignals(ctx context.Context, subj riskSubject) (captcha.Signals, error) {
	var sig captcha.Signals

	st, err := e.lockout.State(ctx, subj.account, subj.ip)
	if err != nil {
		return sig, err
	}
	sig.RecentFailures = st.RecentFailures()
	sig.Account.Locks = st.AccountLocks
	if st.IPLocks > sig.Account.Locks {
		sig.Account.Locks = st.IPLocks
	}

	if subj.userID != "" {
		forced, err := e.risk.ChallengeForced(ctx, subj.userID)
		if err != nil {
			return sig, err
		}
		sig.Account.Forced = forced
	}
	if subj.ip != "" {
		level, err := e.risk.IPRisk(ctx, subj.ip)
		if err != nil {
			return sig, err
		}
		switch level {
		case limiters.IPRiskFlagged:
			sig.IP = captcha.IPRiskFlagged
		case limiters.IPRiskElevated:
			sig.IP = captcha.IPRiskElevated
		}
	}
	return sig, nil
}

// requireCaptcha gathers risk signals for subj and enforces the gate for class. A
// counter store outage is an outage of the gate: low-risk reads proceed, everything
// else fails closed.
func (e *Engine) requireCaptcha(ctx context.Context, class captcha.OperationClass, subj riskSubject, receipt string) (captcha.Outcome, error) {
	sig, err := e.captchaSignals(ctx, subj)
	if err != nil {
		if class.FailsOpen() {
			e.metricInc(metrics.CaptchaFailedOpen)
			e.warn(ctx, "risk signals unavailable, failing open", slog.String("class", class.String()), slog.Any("error", err))
			return captcha.OutcomeFailedOpen, nil
		}
		e.metricInc(metrics.CaptchaFailedClosed)
		return captcha.OutcomeFailedClosed, unavailable(err)
	}
	outcome, err := e.gate.Enforce(ctx, class, sig, receipt, subj.ip)
	return outcome, e.captchaResult(ctx, class, outcome, err)
}

// verifyCaptcha demands a receipt unconditionally.
func (e *Engine) verifyCaptcha(ctx context.Context, class captcha.OperationClass, receipt string) error {
	outcome, err := e.gate.VerifyReceipt(ctx, class, receipt, clientIPFromContext(ctx))
	return e.captchaResult(ctx, class, outcome, err)
}

func (e *Engine) captchaResult(ctx context.Context, class captcha.OperationClass, outcome captcha.Outcome, err error) error {
	switch outcome {
	case captcha.OutcomeMissing:
		e.metricInc(metrics.CaptchaRequired)
		return ErrCaptchaRequired
	case captcha.OutcomeRejected:
		e.metricInc(metrics.CaptchaRejected)
		return ErrCaptchaRejected
	case captcha.OutcomeFailedOpen:
		e.metricInc(metrics.CaptchaFailedOpen)
		e.warn(ctx, "captcha verifier unavailable, failing open", slog.String("class", class.String()))
		return nil
	case captcha.OutcomeFailedClosed:
		e.metricInc(metrics.CaptchaFailedClosed)
		e.emit(ctx, auditRecord{event: "captcha_unavailable", severity: AuditWarning, err: err})
		return unavailable(err)
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// FlagIP makes every request from ip present a captcha for ttl.
func (e *Engine) FlagIP(ctx context.Context, ip string, ttl time.Duration) error {
	if ip == "" || ttl <= 0 {
		return ErrInvalidInput
	}
	if err := e.risk.FlagIP(ctx, ip, ttl); err != nil {
		return unavailable(err)
	}
	e.emit(ctx, auditRecord{
		event:    "ip_flagged",
		severity: AuditWarning,
		success:  true,
		meta:     map[string]string{"ip": ip, "ttl": ttl.String()},
	})
	return nil
}
