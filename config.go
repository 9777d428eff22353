package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
)

// Config is the full engine configuration. Build it with DefaultConfig and override
// fields; the Builder validates it.
type Config struct {
	JWT               JWTConfig
	Session           SessionConfig
	Password          PasswordConfig
	Lockout           LockoutConfig
	TwoFactor         TwoFactorConfig
	Captcha           CaptchaConfig
	EmailVerification TokenConfig
	PasswordReset     TokenConfig
	Throttle          ThrottleConfig
	Mail              MailConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
	// RedisPrefix namespaces session keys when sessions live in Redis.
	RedisPrefix string
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access tokens and key rotation.
type JWTConfig struct {
	Issuer   string
	Audience string
	// AccessTTL is clamped to [5m, 10m] by Validate.
	AccessTTL time.Duration
	// KeyGrace is how long the PREVIOUS key keeps verifying after a promotion.
	KeyGrace time.Duration
	Leeway   time.Duration
	// RotationInterval is used by hosts that promote on a timer. Zero disables it.
	RotationInterval time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh sessions.
type SessionConfig struct {
	TTL     time.Duration
	Binding session.BindingPolicy
	// ElevatedIPTTL is how long a binding drift keeps the new IP elevated.
	ElevatedIPTTL time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters and the hashing worker bound.
type PasswordConfig struct {
	password.Config
	// Workers bounds concurrent hashes; zero means GOMAXPROCS.
	Workers int
	// UpgradeOnLogin re-hashes stale parameters after a successful login.
	UpgradeOnLogin bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the progressive lockout policy.
type LockoutConfig struct {
	Threshold        int
	IPThreshold      int
	Schedule         []time.Duration
	FailureWindow    time.Duration
	EscalationWindow time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP and recovery codes.
type TwoFactorConfig struct {
	Issuer string
	Period time.Duration
	Digits int
	Skew   int
	// QRSize is the provisioning QR edge in pixels; zero omits the image.
	QRSize            int
	ChallengeTTL      time.Duration
	MaxAttempts       int
	LockDuration      time.Duration
	RecoveryCodeCount int
	ForcedCaptchaTTL  time.Duration
	// SealKey is the 32-byte key sealing TOTP secrets at rest. The refresh-token tag key
	// is derived from it, so every replica must share it.
	SealKey []byte
}

/*
====================================
CAPTCHA CONFIG
====================================
*/

// CaptchaConfig controls the captcha gate.
type CaptchaConfig struct {
	Timeout            time.Duration
	FailureThreshold   int64
	ElevatedIPRequires bool
	// RequireOnRegister demands a receipt on every registration.
	RequireOnRegister bool
}

// TokenConfig controls one family of emailed tokens.
type TokenConfig struct {
	TTL time.Duration
}

// ThrottleConfig bounds mail-sending and token-confirm requests per hour.
type ThrottleConfig struct {
	RegisterPerEmail int
	RegisterPerIP    int
	ForgotPerEmail   int
	ForgotPerIP      int
	ConfirmPerIP     int
	Window           time.Duration
}

// MailConfig bounds outbound mail.
type MailConfig struct {
	Timeout time.Duration
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops routine events under backpressure. Critical events are never
	// dropped this way; one that still cannot be queued is written to the logger.
	DropIfFull  bool
	SinkTimeout time.Duration
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:    "authcore",
			AccessTTL: 5 * time.Minute,
			KeyGrace:  24 * time.Hour,
			Leeway:    5 * time.Second,
		},
		Session: SessionConfig{
			TTL:           30 * 24 * time.Hour,
			Binding:       session.BindingAdvisory,
			ElevatedIPTTL: time.Hour,
		},
		Password: PasswordConfig{
			Config:         password.DefaultConfig(),
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			Threshold:        5,
			IPThreshold:      20,
			Schedule:         []time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute},
			FailureWindow:    15 * time.Minute,
			EscalationWindow: 24 * time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:            "authcore",
			Period:            30 * time.Second,
			Digits:            6,
			Skew:              1,
			QRSize:            200,
			ChallengeTTL:      10 * time.Minute,
			MaxAttempts:       5,
			LockDuration:      5 * time.Minute,
			RecoveryCodeCount: 10,
			ForcedCaptchaTTL:  time.Hour,
		},
		Captcha: CaptchaConfig{
			Timeout:            3 * time.Second,
			FailureThreshold:   1,
			ElevatedIPRequires: true,
			RequireOnRegister:  true,
		},
		EmailVerification: TokenConfig{TTL: 24 * time.Hour},
		PasswordReset:     TokenConfig{TTL: time.Hour},
		Throttle: ThrottleConfig{
			RegisterPerEmail: 5,
			RegisterPerIP:    30,
			ForgotPerEmail:   5,
			ForgotPerIP:      30,
			ConfirmPerIP:     60,
			Window:           time.Hour,
		},
		Mail: MailConfig{Timeout: 5 * time.Second},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics:     MetricsConfig{Enabled: true},
		RedisPrefix: "as",
	}
}

const (
	minAccessTTL = 5 * time.Minute
	maxAccessTTL = 10 * time.Minute
)

// Validate checks c and clamps the access TTL into [5m, 10m].
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL < minAccessTTL {
		c.JWT.AccessTTL = minAccessTTL
	}
	if c.JWT.AccessTTL > maxAccessTTL {
		c.JWT.AccessTTL = maxAccessTTL
	}
	if c.JWT.KeyGrace <= 0 {
		return errors.New("JWT KeyGrace must be > 0")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.TTL <= c.JWT.AccessTTL {
		return errors.New("Session TTL must exceed JWT AccessTTL")
	}
	if c.Session.Binding != session.BindingAdvisory && c.Session.Binding != session.BindingStrict {
		return errors.New("Session Binding is invalid")
	}

	// Password
	if err := c.Password.Config.Validate(); err != nil {
		return fmt.Errorf("Password: %w", err)
	}
	if c.Password.Workers < 0 {
		return errors.New("Password Workers must be >= 0")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 || c.Lockout.IPThreshold <= 0 {
		return errors.New("Lockout thresholds must be > 0")
	}
	if len(c.Lockout.Schedule) == 0 {
		return errors.New("Lockout Schedule must not be empty")
	}
	for i, d := range c.Lockout.Schedule {
		if d <= 0 {
			return fmt.Errorf("Lockout Schedule[%d] must be > 0", i)
		}
		if i > 0 && d < c.Lockout.Schedule[i-1] {
			return errors.New("Lockout Schedule must not decrease")
		}
	}
	if c.Lockout.FailureWindow <= 0 || c.Lockout.EscalationWindow <= 0 {
		return errors.New("Lockout windows must be > 0")
	}

	// Two-factor
	if c.TwoFactor.Period <= 0 || c.TwoFactor.Period%time.Second != 0 {
		return errors.New("TwoFactor Period must be a positive whole number of seconds")
	}
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be between 0 and 2")
	}
	if c.TwoFactor.ChallengeTTL <= 0 || c.TwoFactor.LockDuration <= 0 {
		return errors.New("TwoFactor ChallengeTTL and LockDuration must be > 0")
	}
	if c.TwoFactor.MaxAttempts <= 0 {
		return errors.New("TwoFactor MaxAttempts must be > 0")
	}
	if c.TwoFactor.RecoveryCodeCount <= 0 {
		return errors.New("TwoFactor RecoveryCodeCount must be > 0")
	}
	if len(c.TwoFactor.SealKey) != 0 && len(c.TwoFactor.SealKey) != 32 {
		return errors.New("TwoFactor SealKey must be 32 bytes")
	}

	// Captcha
	if c.Captcha.Timeout <= 0 {
		return errors.New("Captcha Timeout must be > 0")
	}

	// Tokens
	if c.EmailVerification.TTL <= 0 || c.PasswordReset.TTL <= 0 {
		return errors.New("token TTLs must be > 0")
	}
	if c.Mail.Timeout <= 0 {
		return errors.New("Mail Timeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Lockout.Schedule = append([]time.Duration(nil), cfg.Lockout.Schedule...)
	out.TwoFactor.SealKey = append([]byte(nil), cfg.TwoFactor.SealKey...)
	return out
}
