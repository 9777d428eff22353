package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
)

const (
	defaultChallengeMaxAttempts = 5
	defaultChallengeLock        = 5 * time.Minute
	defaultChallengeWindow      = 15 * time.Minute
)

var (
	// ErrChallengeLocked is returned while a challenge is serving its lock.
	ErrChallengeLocked = errors.New("challenge locked")
	// ErrChallengeLimiterUnavailable wraps counter store failures.
	ErrChallengeLimiterUnavailable = errors.New("challenge limiter unavailable")
)

// ChallengeLimiterConfig bounds OTP and recovery-code guesses against one challenge id.
type ChallengeLimiterConfig struct {
	MaxAttempts  int
	LockDuration time.Duration
	// Window is how long a failure streak is remembered; it must outlive the challenge.
	Window time.Duration
}

// ChallengeLimiter counts consecutive failures per challenge and locks the challenge
// when MaxAttempts is reached. The streak restarts after each lock.
type ChallengeLimiter struct {
	store       rate.Store
	maxAttempts int64
	lock        time.Duration
	window      time.Duration
}

// NewChallengeLimiter builds a limiter; zero config fields take the 5 attempts / 5 minute
// defaults.
func NewChallengeLimiter(store rate.Store, cfg ChallengeLimiterConfig) *ChallengeLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultChallengeMaxAttempts
	}
	lock := cfg.LockDuration
	if lock <= 0 {
		lock = defaultChallengeLock
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultChallengeWindow
	}
	return &ChallengeLimiter{store: store, maxAttempts: int64(max), lock: lock, window: window}
}

func (l *ChallengeLimiter) failKey(challengeID string) string {
	return "amf:" + challengeID
}

func (l *ChallengeLimiter) lockKey(challengeID string) string {
	return "aml:" + challengeID
}

// LockDuration is the configured lock length.
func (l *ChallengeLimiter) LockDuration() time.Duration {
	return l.lock
}

// Check returns ErrChallengeLocked while the challenge lock is active.
func (l *ChallengeLimiter) Check(ctx context.Context, challengeID string) error {
	_, locked, err := l.store.Get(ctx, l.lockKey(challengeID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeLimiterUnavailable, err)
	}
	if locked {
		return ErrChallengeLocked
	}
	return nil
}

// RecordFailure counts one failed guess and reports whether it locked the challenge.
func (l *ChallengeLimiter) RecordFailure(ctx context.Context, challengeID string) (bool, error) {
	count, err := l.store.Incr(ctx, l.failKey(challengeID), l.window)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeLimiterUnavailable, err)
	}
	if count < l.maxAttempts {
		return false, nil
	}

	// Only the caller that hits the limit exactly applies the lock.
	if count > l.maxAttempts {
		return true, nil
	}
	if err := l.store.Set(ctx, l.lockKey(challengeID), "1", l.lock); err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeLimiterUnavailable, err)
	}
	if err := l.store.Del(ctx, l.failKey(challengeID)); err != nil {
		return true, fmt.Errorf("%w: %v", ErrChallengeLimiterUnavailable, err)
	}
	return true, nil
}

// Reset clears the streak and any lock for the challenge.
func (l *ChallengeLimiter) Reset(ctx context.Context, challengeID string) error {
	if err := l.store.Del(ctx, l.failKey(challengeID), l.lockKey(challengeID)); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeLimiterUnavailable, err)
	}
	return nil
}
