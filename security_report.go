package authcore

import "time"

// SecurityReport summarizes the effective security posture of an engine. Hosts log it
// at startup and expose it on an admin endpoint.
type SecurityReport struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	SessionTTL            time.Duration
	KeyGrace              time.Duration
	SessionBinding        string
	Argon2                PasswordConfigReport
	LockoutThreshold      int
	LockoutIPThreshold    int
	LockoutSchedule       []time.Duration
	TwoFactorMaxAttempts  int
	TwoFactorLockDuration time.Duration
	RecoveryCodeCount     int
	CaptchaOnRegister     bool
	ElevatedIPCaptcha     bool
	AuditEnabled          bool
	MetricsEnabled        bool
	ActiveKeys            int
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	c := e.config
	return SecurityReport{
		SigningAlgorithm: "ES256",
		AccessTTL:        c.JWT.AccessTTL,
		SessionTTL:       c.Session.TTL,
		KeyGrace:         c.JWT.KeyGrace,
		SessionBinding:   c.Session.Binding.String(),
		Argon2: PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		LockoutThreshold:      c.Lockout.Threshold,
		LockoutIPThreshold:    c.Lockout.IPThreshold,
		LockoutSchedule:       append([]time.Duration(nil), c.Lockout.Schedule...),
		TwoFactorMaxAttempts:  c.TwoFactor.MaxAttempts,
		TwoFactorLockDuration: c.TwoFactor.LockDuration,
		RecoveryCodeCount:     c.TwoFactor.RecoveryCodeCount,
		CaptchaOnRegister:     c.Captcha.RequireOnRegister,
		ElevatedIPCaptcha:     c.Captcha.ElevatedIPRequires,
		AuditEnabled:          c.Audit.Enabled,
		MetricsEnabled:        c.Metrics.Enabled,
		ActiveKeys:            len(e.keys.Keys()),
	}
}
