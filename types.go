package authcore

import (
	"io"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	internalmetrics "github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/session"
)

// AuditEvent is one structured security event.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events off the request path.
type AuditSink = internalaudit.Sink

// AuditSeverity grades an audit event.
type AuditSeverity = internalaudit.Severity

const (
	AuditInfo     = internalaudit.SeverityInfo
	AuditWarning  = internalaudit.SeverityWarning
	AuditCritical = internalaudit.SeverityCritical
)

// ChannelSink delivers audit events on a channel.
type ChannelSink = internalaudit.ChannelSink

// NewChannelSink returns a sink with the given channel buffer.
func NewChannelSink(buffer int) *ChannelSink { return internalaudit.NewChannelSink(buffer) }

// NewJSONWriterSink writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) AuditSink { return internalaudit.NewJSONWriterSink(w) }

// MetricID names one engine counter.
type MetricID = internalmetrics.ID

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot = internalmetrics.Snapshot

const (
	MetricLoginSuccess             = internalmetrics.LoginSuccess
	MetricLoginFailure             = internalmetrics.LoginFailure
	MetricLoginLocked              = internalmetrics.LoginLocked
	MetricLoginUnverified          = internalmetrics.LoginUnverified
	MetricLoginTwoFactorRequired   = internalmetrics.LoginTwoFactorRequired
	MetricTwoFactorSuccess         = internalmetrics.TwoFactorSuccess
	MetricTwoFactorFailure         = internalmetrics.TwoFactorFailure
	MetricTwoFactorLocked          = internalmetrics.TwoFactorLocked
	MetricRecoveryCodeUsed         = internalmetrics.RecoveryCodeUsed
	MetricRefreshSuccess           = internalmetrics.RefreshSuccess
	MetricRefreshReuseDetected     = internalmetrics.RefreshReuseDetected
	MetricCaptchaRequired          = internalmetrics.CaptchaRequired
	MetricCaptchaFailedOpen        = internalmetrics.CaptchaFailedOpen
	MetricCaptchaFailedClosed      = internalmetrics.CaptchaFailedClosed
	MetricLockoutApplied           = internalmetrics.LockoutApplied
	MetricRegisterSuccess          = internalmetrics.RegisterSuccess
	MetricRegisterResent           = internalmetrics.RegisterResent
	MetricPasswordResetSuccess     = internalmetrics.PasswordResetSuccess
	MetricMailFailure              = internalmetrics.MailFailure
	MetricBindingDrift             = internalmetrics.BindingDrift
	MetricKeyPromoted              = internalmetrics.KeyPromoted
	MetricKeyExpiredRejected       = internalmetrics.KeyExpiredRejected
	MetricValidateLatency          = internalmetrics.ValidateLatency
	MetricRecoveryCodesRegenerated = internalmetrics.RecoveryCodesRegenerated
)

// TokenPair is handed to the client after a successful authentication.
type TokenPair struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

func tokenPair(p session.Pair) TokenPair {
	return TokenPair{
		SessionID:        p.SessionID,
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// RegisterRequest is the input of Register.
type RegisterRequest struct {
	Email          string
	Password       string
	CaptchaReceipt string
}

// RegisterResult is deliberately uninformative: every accepted registration, resend
// and silently ignored attempt looks the same.
type RegisterResult struct {
	Message string
}

// LoginRequest is the input of Login.
type LoginRequest struct {
	Email          string
	Password       string
	CaptchaReceipt string
}

// LoginResult carries tokens, or a challenge id when a second factor is required.
type LoginResult struct {
	Tokens             *TokenPair
	RequiresTwoFactor  bool
	ChallengeID        string
	ChallengeExpiresAt time.Time
}

// VerifyTwoFactorRequest is the input of VerifyTwoFactor.
type VerifyTwoFactorRequest struct {
	ChallengeID    string
	OTP            string
	CaptchaReceipt string
}

// RecoveryLoginRequest is the input of RecoveryLogin.
type RecoveryLoginRequest struct {
	ChallengeID    string
	Code           string
	CaptchaReceipt string
}

// RecoveryLoginResult carries tokens and the rotated remaining recovery codes.
type RecoveryLoginResult struct {
	Tokens        TokenPair
	RecoveryCodes []string
}

// TwoFactorSetup is returned by EnableTwoFactorInit.
type TwoFactorSetup struct {
	ChallengeID string
	Secret      string
	URL         string
	// QRCodePNG is empty when QR generation is disabled.
	QRCodePNG []byte
	ExpiresAt time.Time
}

// SessionInfo describes one live session without exposing its refresh hash.
type SessionInfo struct {
	ID        string
	UserAgent string
	Network   string
	CreatedAt time.Time
	RotatedAt time.Time
	ExpiresAt time.Time
}
