package authcore

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig invalid: %v", err)
	}
}

func TestValidateClampsAccessTTL(t *testing.T) {
	cases := []struct {
		in, want time.Duration
	}{
		{time.Minute, 5 * time.Minute},
		{7 * time.Minute, 7 * time.Minute},
		{time.Hour, 10 * time.Minute},
	}
	for _, tc := range cases {
		cfg := testConfig()
		cfg.JWT.AccessTTL = tc.in
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate(%v): %v", tc.in, err)
		}
		if cfg.JWT.AccessTTL != tc.want {
			t.Fatalf("AccessTTL %v clamped to %v, want %v", tc.in, cfg.JWT.AccessTTL, tc.want)
		}
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"weak argon2":         func(c *Config) { c.Password.Memory = 1024 },
		"empty schedule":      func(c *Config) { c.Lockout.Schedule = nil },
		"decreasing schedule": func(c *Config) { c.Lockout.Schedule = []time.Duration{time.Hour, time.Minute} },
		"zero threshold":      func(c *Config) { c.Lockout.Threshold = 0 },
		"digits":              func(c *Config) { c.TwoFactor.Digits = 7 },
		"fractional period":   func(c *Config) { c.TwoFactor.Period = 1500 * time.Millisecond },
		"short seal key":      func(c *Config) { c.TwoFactor.SealKey = []byte("short") },
		"session shorter":     func(c *Config) { c.Session.TTL = time.Minute },
		"no captcha timeout":  func(c *Config) { c.Captcha.Timeout = 0 },
		"audit buffer":        func(c *Config) { c.Audit.BufferSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestConfigReturnsCopy(t *testing.T) {
	te := newTestEngine(t)
	cfg := te.Config()
	cfg.Lockout.Schedule[0] = time.Nanosecond
	if te.Config().Lockout.Schedule[0] != 5*time.Minute {
		t.Fatalf("Config leaked internal state")
	}
}
