package mfa

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/store"
)

var (
	// ErrInvalidCode covers wrong, malformed and replayed OTPs and unknown recovery codes.
	ErrInvalidCode = errors.New("invalid code")
	// ErrChallengeInvalid is returned for unknown, expired or already redeemed challenges.
	ErrChallengeInvalid = errors.New("challenge invalid")
	// ErrChallengeLocked is returned while failed guesses hold the challenge locked.
	ErrChallengeLocked = limiters.ErrChallengeLocked
	// ErrNotEnrolled is returned when the user has no active second factor.
	ErrNotEnrolled = errors.New("two-factor not enrolled")
	// ErrAlreadyEnrolled is returned by EnrollInit for users with an active second factor.
	ErrAlreadyEnrolled = errors.New("two-factor already enrolled")
	// ErrUnavailable wraps counter store and durable store failures.
	ErrUnavailable = errors.New("two-factor backend unavailable")
)

// Config tunes the two-factor engine.
type Config struct {
	TOTP               TOTPConfig
	RecoveryCodeCount  int
	RecoveryCodeLength int
	// ChallengeTTL bounds both login and enrollment challenges.
	ChallengeTTL time.Duration
	// ForcedCaptchaTTL is how long a lock keeps demanding a captcha from the account.
	ForcedCaptchaTTL time.Duration
	Limiter          limiters.ChallengeLimiterConfig
	Now              func() time.Time
}

// DefaultConfig returns 10 recovery codes, 10 minute challenges and 5 attempts per
// 5 minute lock.
func DefaultConfig() Config {
	return Config{
		TOTP:               DefaultTOTPConfig(),
		RecoveryCodeCount:  10,
		RecoveryCodeLength: 10,
		ChallengeTTL:       10 * time.Minute,
		ForcedCaptchaTTL:   time.Hour,
		Limiter: limiters.ChallengeLimiterConfig{
			MaxAttempts:  5,
			LockDuration: 5 * time.Minute,
			Window:       15 * time.Minute,
		},
	}
}

// Deps are the collaborators of Engine.
type Deps struct {
	Users  store.Users
	Codes  store.RecoveryCodes
	Sealer *Sealer
	// Counters backs challenges, attempt limits and the replay guard.
	Counters rate.Store
	// Risk receives forced-captcha flags when a challenge locks. Optional.
	Risk *limiters.RiskFlags
}

// Engine runs TOTP enrollment, verification and recovery-code redemption.
type Engine struct {
	cfg        Config
	users      store.Users
	codes      store.RecoveryCodes
	sealer     *Sealer
	counters   rate.Store
	challenges *stores.ChallengeStore
	limiter    *limiters.ChallengeLimiter
	risk       *limiters.RiskFlags
}

// NewEngine validates cfg and wires deps.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	def := DefaultConfig()
	if cfg.TOTP == (TOTPConfig{}) {
		cfg.TOTP = def.TOTP
	}
	if err := cfg.TOTP.validate(); err != nil {
		return nil, err
	}
	if cfg.RecoveryCodeCount <= 0 {
		cfg.RecoveryCodeCount = def.RecoveryCodeCount
	}
	if cfg.RecoveryCodeLength < 8 {
		cfg.RecoveryCodeLength = def.RecoveryCodeLength
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = def.ChallengeTTL
	}
	if cfg.ForcedCaptchaTTL <= 0 {
		cfg.ForcedCaptchaTTL = def.ForcedCaptchaTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Users == nil || deps.Codes == nil || deps.Sealer == nil || deps.Counters == nil {
		return nil, errors.New("mfa: users, codes, sealer and counters are required")
	}
	return &Engine{
		cfg:        cfg,
		users:      deps.Users,
		codes:      deps.Codes,
		sealer:     deps.Sealer,
		counters:   deps.Counters,
		challenges: stores.NewChallengeStore(deps.Counters, "amc", cfg.Now),
		limiter:    limiters.NewChallengeLimiter(deps.Counters, cfg.Limiter),
		risk:       deps.Risk,
	}, nil
}

// Enrollment is the pending state handed to the client by EnrollInit.
type Enrollment struct {
	ChallengeID string
	Provision
	ExpiresAt time.Time
}

// EnrollInit generates a secret for user and parks it, sealed, in an enrollment
// challenge. Nothing durable changes until EnrollComplete.
func (e *Engine) EnrollInit(ctx context.Context, user *store.User) (*Enrollment, error) {
	if user.MFAEnabled {
		return nil, ErrAlreadyEnrolled
	}
	prov, err := e.cfg.TOTP.GenerateProvision(user.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sealed, err := e.sealer.Seal(user.ID, []byte(prov.Secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	expires := e.cfg.Now().Add(e.cfg.ChallengeTTL)
	id := uuid.NewString()
	record := &stores.Challenge{
		Kind:      stores.ChallengeEnroll,
		UserID:    user.ID,
		ExpiresAt: expires.Unix(),
		Secret:    sealed,
	}
	if err := e.challenges.Save(ctx, id, record, e.cfg.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Enrollment{ChallengeID: id, Provision: prov, ExpiresAt: expires}, nil
}

// EnrollComplete confirms the pending secret with a first code, activates two-factor
// and returns the recovery codes. The codes are shown once.
func (e *Engine) EnrollComplete(ctx context.Context, challengeID, code string) (string, []string, error) {
	ch, err := e.loadChallenge(ctx, challengeID, stores.ChallengeEnroll)
	if err != nil {
		return "", nil, err
	}
	if err := e.checkLocks(ctx, challengeID, ch.UserID); err != nil {
		return "", nil, err
	}

	secret, err := e.sealer.Open(ch.UserID, ch.Secret)
	if err != nil {
		return "", nil, ErrChallengeInvalid
	}
	if err := e.matchOTP(ctx, challengeID, ch.UserID, string(secret), code); err != nil {
		return "", nil, err
	}

	codes, hashes, err := GenerateRecoveryCodes(ch.UserID, e.cfg.RecoveryCodeCount, e.cfg.RecoveryCodeLength)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Consume first so concurrent completions cannot both enable. A failed durable write
	// puts the challenge back for the rest of its lifetime.
	if _, err := e.challenges.Consume(ctx, challengeID); err != nil {
		return "", nil, e.challengeErr(err)
	}
	if err := e.users.EnableMFA(ctx, ch.UserID, ch.Secret, hashes); err != nil {
		if ttl := time.Unix(ch.ExpiresAt, 0).Sub(e.cfg.Now()); ttl > 0 {
			_ = e.challenges.Save(ctx, challengeID, ch, ttl)
		}
		return "", nil, e.storeErr(err)
	}
	e.resetLocks(ctx, challengeID, ch.UserID)
	return ch.UserID, codes, nil
}

// BeginLogin opens a login challenge for a user whose password was accepted.
func (e *Engine) BeginLogin(ctx context.Context, userID string) (string, time.Time, error) {
	expires := e.cfg.Now().Add(e.cfg.ChallengeTTL)
	id := uuid.NewString()
	record := &stores.Challenge{Kind: stores.ChallengeLogin, UserID: userID, ExpiresAt: expires.Unix()}
	if err := e.challenges.Save(ctx, id, record, e.cfg.ChallengeTTL); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, expires, nil
}

// PendingUser returns the user a live login challenge belongs to without touching it.
// While the challenge or its user is locked it returns the user id together with
// ErrChallengeLocked.
func (e *Engine) PendingUser(ctx context.Context, challengeID string) (string, error) {
	ch, err := e.loadChallenge(ctx, challengeID, stores.ChallengeLogin)
	if err != nil {
		return "", err
	}
	if err := e.checkLocks(ctx, challengeID, ch.UserID); err != nil {
		return ch.UserID, err
	}
	return ch.UserID, nil
}

// EnrollOwner returns the user a live enrollment challenge belongs to.
func (e *Engine) EnrollOwner(ctx context.Context, challengeID string) (string, error) {
	ch, err := e.loadChallenge(ctx, challengeID, stores.ChallengeEnroll)
	if err != nil {
		return "", err
	}
	return ch.UserID, nil
}

// VerifyChallenge redeems a login challenge with an OTP and returns the user id.
func (e *Engine) VerifyChallenge(ctx context.Context, challengeID, code string) (string, error) {
	ch, err := e.loadChallenge(ctx, challengeID, stores.ChallengeLogin)
	if err != nil {
		return "", err
	}
	if err := e.checkLocks(ctx, challengeID, ch.UserID); err != nil {
		return "", err
	}
	secret, err := e.openUserSecret(ctx, ch.UserID)
	if err != nil {
		return "", err
	}
	if err := e.matchOTP(ctx, challengeID, ch.UserID, secret, code); err != nil {
		return "", err
	}
	if _, err := e.challenges.Consume(ctx, challengeID); err != nil {
		return "", e.challengeErr(err)
	}
	e.resetLocks(ctx, challengeID, ch.UserID)
	return ch.UserID, nil
}

// RecoverChallenge redeems a login challenge with a recovery code. The used code is
// removed and every remaining code is replaced; the fresh set is returned.
func (e *Engine) RecoverChallenge(ctx context.Context, challengeID, code string) (string, []string, error) {
	ch, err := e.loadChallenge(ctx, challengeID, stores.ChallengeLogin)
	if err != nil {
		return "", nil, err
	}
	if err := e.checkLocks(ctx, challengeID, ch.UserID); err != nil {
		return "", nil, err
	}

	fresh, err := e.redeem(ctx, ch.UserID, code)
	if errors.Is(err, ErrInvalidCode) {
		return "", nil, e.recordFailure(ctx, challengeID, ch.UserID)
	}
	if err != nil {
		return "", nil, err
	}
	if _, err := e.challenges.Consume(ctx, challengeID); err != nil {
		return "", nil, e.challengeErr(err)
	}
	e.resetLocks(ctx, challengeID, ch.UserID)
	return ch.UserID, fresh, nil
}

// Verify checks an OTP for an enrolled user outside any challenge, as required before
// disabling or regenerating codes. Failures count against the user.
func (e *Engine) Verify(ctx context.Context, user *store.User, code string) error {
	if !user.MFAEnabled || len(user.MFASecret) == 0 {
		return ErrNotEnrolled
	}
	if err := e.checkLocks(ctx, "", user.ID); err != nil {
		return err
	}
	secret, err := e.sealer.Open(user.ID, user.MFASecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := e.matchOTP(ctx, "", user.ID, string(secret), code); err != nil {
		return err
	}
	e.resetLocks(ctx, "", user.ID)
	return nil
}

// Disable turns two-factor off after a fresh OTP.
func (e *Engine) Disable(ctx context.Context, user *store.User, code string) error {
	if err := e.Verify(ctx, user, code); err != nil {
		return err
	}
	if err := e.users.DisableMFA(ctx, user.ID); err != nil {
		return e.storeErr(err)
	}
	return nil
}

// Regenerate replaces all recovery codes after a fresh OTP.
func (e *Engine) Regenerate(ctx context.Context, user *store.User, code string) ([]string, error) {
	if err := e.Verify(ctx, user, code); err != nil {
		return nil, err
	}
	codes, hashes, err := GenerateRecoveryCodes(user.ID, e.cfg.RecoveryCodeCount, e.cfg.RecoveryCodeLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := e.codes.ReplaceRecoveryCodes(ctx, user.ID, hashes); err != nil {
		return nil, e.storeErr(err)
	}
	return codes, nil
}

// RemainingCodes reports how many recovery codes the user holds.
func (e *Engine) RemainingCodes(ctx context.Context, userID string) (int, error) {
	n, err := e.codes.RecoveryCodeCount(ctx, userID)
	if err != nil {
		return 0, e.storeErr(err)
	}
	return n, nil
}

func (e *Engine) redeem(ctx context.Context, userID, code string) ([]string, error) {
	canonical := CanonicalizeRecoveryCode(code)
	if len(canonical) != e.cfg.RecoveryCodeLength {
		return nil, ErrInvalidCode
	}

	var fresh []string
	rotate := func(n int) ([][32]byte, error) {
		codes, hashes, err := GenerateRecoveryCodes(userID, n, e.cfg.RecoveryCodeLength)
		if err != nil {
			return nil, err
		}
		fresh = codes
		return hashes, nil
	}
	ok, err := e.codes.ConsumeRecoveryCode(ctx, userID, RecoveryCodeHash(userID, canonical), rotate)
	if err != nil {
		return nil, e.storeErr(err)
	}
	if !ok {
		return nil, ErrInvalidCode
	}
	if fresh == nil {
		fresh = []string{}
	}
	return fresh, nil
}

func (e *Engine) openUserSecret(ctx context.Context, userID string) (string, error) {
	user, err := e.users.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrChallengeInvalid
	}
	if err != nil {
		return "", e.storeErr(err)
	}
	if !user.MFAEnabled || len(user.MFASecret) == 0 {
		return "", ErrNotEnrolled
	}
	secret, err := e.sealer.Open(user.ID, user.MFASecret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return string(secret), nil
}

// matchOTP checks code and burns its time step so the same code cannot be replayed
// inside the skew window. A miss counts as a failed attempt.
func (e *Engine) matchOTP(ctx context.Context, challengeID, userID, secret, code string) error {
	counter, ok, err := e.cfg.TOTP.Match(secret, code, e.cfg.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return e.recordFailure(ctx, challengeID, userID)
	}

	ttl := e.cfg.TOTP.Period * time.Duration(2*e.cfg.TOTP.Skew+2)
	fresh, err := e.counters.SetNX(ctx, replayKey(userID, counter), "1", ttl)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !fresh {
		return e.recordFailure(ctx, challengeID, userID)
	}
	return nil
}

func replayKey(userID string, counter int64) string {
	return "atr:" + userID + ":" + strconv.FormatInt(counter, 10)
}

func userLimiterKey(userID string) string {
	return "u:" + userID
}

func (e *Engine) checkLocks(ctx context.Context, challengeID, userID string) error {
	for _, key := range []string{challengeID, userLimiterKey(userID)} {
		if key == "" {
			continue
		}
		if err := e.limiter.Check(ctx, key); err != nil {
			if errors.Is(err, limiters.ErrChallengeLocked) {
				return ErrChallengeLocked
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// recordFailure counts a miss against the challenge and the user. When either locks,
// the account is flagged to present a captcha once the lock lifts.
func (e *Engine) recordFailure(ctx context.Context, challengeID, userID string) error {
	locked := false
	for _, key := range []string{challengeID, userLimiterKey(userID)} {
		if key == "" {
			continue
		}
		l, err := e.limiter.RecordFailure(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		locked = locked || l
	}
	if !locked {
		return ErrInvalidCode
	}
	if e.risk != nil {
		if err := e.risk.ForceChallenge(ctx, userID, e.cfg.ForcedCaptchaTTL); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return ErrChallengeLocked
}

func (e *Engine) resetLocks(ctx context.Context, challengeID, userID string) {
	if challengeID != "" {
		_ = e.limiter.Reset(ctx, challengeID)
	}
	_ = e.limiter.Reset(ctx, userLimiterKey(userID))
}

func (e *Engine) loadChallenge(ctx context.Context, challengeID string, kind stores.ChallengeKind) (*stores.Challenge, error) {
	if challengeID == "" {
		return nil, ErrChallengeInvalid
	}
	ch, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, e.challengeErr(err)
	}
	if ch.Kind != kind {
		return nil, ErrChallengeInvalid
	}
	return ch, nil
}

func (e *Engine) challengeErr(err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound),
		errors.Is(err, stores.ErrChallengeExpired),
		errors.Is(err, stores.ErrChallengeCorrupt):
		return ErrChallengeInvalid
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (e *Engine) storeErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotEnrolled
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
