package authcore

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/MrEthical07/authcore/captcha"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/mailer"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// Builder assembles an Engine. Each builder produces at most one engine.
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithStore(pg).
//		WithSessionStore(pg.Sessions()).
//		WithMailer(m).
//		Build()
type Builder struct {
	config Config

	redis    redis.UniversalClient
	counters rate.Store
	store    store.Store
	sessions session.Store
	mailer   mailer.Mailer
	verifier captcha.Verifier
	sink     AuditSink
	logger   *slog.Logger
	now      func() time.Time

	currentKey *jwt.SigningKey
	nextKey    *jwt.SigningKey

	built bool
}

// New returns a builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs counters and, unless WithSessionStore is used, sessions with Redis.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCounterStore overrides the ephemeral counter store.
func (b *Builder) WithCounterStore(counters rate.Store) *Builder {
	b.counters = counters
	return b
}

// WithStore sets the durable user, token and recovery code store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithSessionStore sets where refresh sessions live.
func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.sessions = s
	return b
}

// WithMailer sets the mail collaborator. The default logs without delivering.
func (b *Builder) WithMailer(m mailer.Mailer) *Builder {
	b.mailer = m
	return b
}

// WithCaptchaVerifier sets the receipt verifier. Without one, every required captcha
// is treated as a verifier outage.
func (b *Builder) WithCaptchaVerifier(v captcha.Verifier) *Builder {
	b.verifier = v
	return b
}

// WithAuditSink sets the audit destination.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the logger for best-effort warnings.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithSealKey sets the 32-byte key that seals TOTP secrets.
func (b *Builder) WithSealKey(key []byte) *Builder {
	b.config.TwoFactor.SealKey = append([]byte(nil), key...)
	return b
}

// WithSigningKeys seeds CURRENT and NEXT. Nil keys are generated.
func (b *Builder) WithSigningKeys(current, next *jwt.SigningKey) *Builder {
	b.currentKey = current
	b.nextKey = next
	return b
}

// WithClock overrides time for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the access-validation latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if b.store == nil {
		return nil, fmt.Errorf("%w: store required", ErrInvalidConfig)
	}
	if len(cfg.TwoFactor.SealKey) == 0 {
		return nil, fmt.Errorf("%w: TwoFactor SealKey required", ErrInvalidConfig)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	counters := b.counters
	if counters == nil {
		if b.redis != nil {
			counters = rate.NewRedisStore(b.redis)
		} else {
			counters = rate.NewMemoryStore(now)
		}
	}
	sessions := b.sessions
	if sessions == nil {
		if b.redis != nil {
			sessions = session.NewRedisStore(b.redis, cfg.RedisPrefix).WithClock(now)
		} else {
			sessions = session.NewMemoryStore(now)
		}
	}

	keys, err := jwt.NewRegistry(jwt.Config{
		Issuer:    cfg.JWT.Issuer,
		Audience:  cfg.JWT.Audience,
		AccessTTL: cfg.JWT.AccessTTL,
		Grace:     cfg.JWT.KeyGrace,
		Leeway:    cfg.JWT.Leeway,
		Now:       now,
	}, b.currentKey, b.nextKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	hasher, err := password.NewArgon2(cfg.Password.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	dummyHash, err := hasher.Hash("authcore-dummy-password")
	if err != nil {
		return nil, err
	}

	tagKey, err := session.DeriveTagKey(cfg.TwoFactor.SealKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	sealer, err := mfa.NewSealer(cfg.TwoFactor.SealKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	risk := limiters.NewRiskFlags(counters)
	twoFactor, err := mfa.NewEngine(mfa.Config{
		TOTP: mfa.TOTPConfig{
			Issuer: cfg.TwoFactor.Issuer,
			Period: cfg.TwoFactor.Period,
			Digits: cfg.TwoFactor.Digits,
			Skew:   cfg.TwoFactor.Skew,
			QRSize: cfg.TwoFactor.QRSize,
		},
		RecoveryCodeCount: cfg.TwoFactor.RecoveryCodeCount,
		ChallengeTTL:      cfg.TwoFactor.ChallengeTTL,
		ForcedCaptchaTTL:  cfg.TwoFactor.ForcedCaptchaTTL,
		Limiter: limiters.ChallengeLimiterConfig{
			MaxAttempts:  cfg.TwoFactor.MaxAttempts,
			LockDuration: cfg.TwoFactor.LockDuration,
			Window:       cfg.TwoFactor.ChallengeTTL + cfg.TwoFactor.LockDuration,
		},
		Now: now,
	}, mfa.Deps{
		Users:    b.store,
		Codes:    b.store,
		Sealer:   sealer,
		Counters: counters,
		Risk:     risk,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	m := b.mailer
	if m == nil {
		m = mailer.SlogMailer{Logger: logger}
	}

	sink := b.sink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}

	window := cfg.Throttle.Window
	engine := &Engine{
		config: cfg,
		logger: logger,
		now:    now,
		store:  b.store,
		sessions: session.NewManager(sessions, keys, session.Config{
			TTL:     cfg.Session.TTL,
			Binding: cfg.Session.Binding,
			Now:     now,
			TagKey:  tagKey,
		}),
		keys:   keys,
		hasher: password.NewPool(hasher, cfg.Password.Workers),
		mfa:    twoFactor,
		gate: captcha.NewGate(b.verifier, cfg.Captcha.Timeout, captcha.Policy{
			FailureThreshold:   cfg.Captcha.FailureThreshold,
			ElevatedIPRequires: cfg.Captcha.ElevatedIPRequires,
		}),
		lockout: limiters.NewLockout(counters, limiters.LockoutConfig{
			Threshold:        cfg.Lockout.Threshold,
			IPThreshold:      cfg.Lockout.IPThreshold,
			Schedule:         cfg.Lockout.Schedule,
			FailureWindow:    cfg.Lockout.FailureWindow,
			EscalationWindow: cfg.Lockout.EscalationWindow,
		}),
		risk: risk,
		registerLimiter: limiters.NewRequestLimiter(counters, limiters.RequestConfig{
			Action:           "register",
			MaxPerIdentifier: cfg.Throttle.RegisterPerEmail,
			MaxPerIP:         cfg.Throttle.RegisterPerIP,
			Window:           window,
		}),
		forgotLimiter: limiters.NewRequestLimiter(counters, limiters.RequestConfig{
			Action:           "forgot",
			MaxPerIdentifier: cfg.Throttle.ForgotPerEmail,
			MaxPerIP:         cfg.Throttle.ForgotPerIP,
			Window:           window,
		}),
		confirmLimiter: limiters.NewRequestLimiter(counters, limiters.RequestConfig{
			Action:   "confirm",
			MaxPerIP: cfg.Throttle.ConfirmPerIP,
			Window:   window,
		}),
		mailer: mailer.WithTimeout(m, cfg.Mail.Timeout),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:     cfg.Audit.Enabled,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			SinkTimeout: cfg.Audit.SinkTimeout,
			Overflow:    audit.NewSlogSink(logger),
		}, sink),
		metrics: metrics.New(metrics.Config{
			Enabled:                 cfg.Metrics.Enabled,
			EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
		}),
		tracer:    otel.Tracer(tracerName),
		dummyHash: dummyHash,
	}

	b.built = true
	return engine, nil
}
