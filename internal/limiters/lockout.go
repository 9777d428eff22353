package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
)

// LockoutConfig defines progressive lockout thresholds.
type LockoutConfig struct {
	// Threshold is the number of account failures that triggers a lock.
	Threshold int
	// IPThreshold is the number of failures from one IP that triggers an IP lock.
	IPThreshold int
	// Schedule lists lock durations by lock ordinal; the last entry repeats.
	Schedule []time.Duration
	// FailureWindow bounds how long a failure streak is remembered.
	FailureWindow time.Duration
	// EscalationWindow is the rolling window over which lock history escalates.
	EscalationWindow time.Duration
}

// DefaultLockoutConfig returns 5 failures per lock, 5/15/60 minute escalation and a 24h
// escalation window.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Threshold:        5,
		IPThreshold:      20,
		Schedule:         []time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute},
		FailureWindow:    15 * time.Minute,
		EscalationWindow: 24 * time.Hour,
	}
}

var (
	// ErrLocked is returned while the account or IP lock is active.
	ErrLocked = errors.New("locked out")
	// ErrLockoutUnavailable wraps counter store failures.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// Scope identifies which counter family a lock belongs to.
type Scope uint8

const (
	ScopeAccount Scope = iota + 1
	ScopeIP
)

func (s Scope) String() string {
	switch s {
	case ScopeAccount:
		return "account"
	case ScopeIP:
		return "ip"
	default:
		return "unknown"
	}
}

// Failure reports the outcome of RecordFailure.
type Failure struct {
	AccountFailures int64
	IPFailures      int64
	// Locked lists the scopes that transitioned to LOCKED on this failure.
	Locked []Scope
	// Duration is the longest lock applied on this failure.
	Duration time.Duration
}

// State is a read-only view of the counters for captcha decisions.
type State struct {
	AccountFailures int64
	IPFailures      int64
	AccountLocks    int64
	IPLocks         int64
}

// RecentFailures is the larger of the two failure streaks.
func (s State) RecentFailures() int64 {
	if s.IPFailures > s.AccountFailures {
		return s.IPFailures
	}
	return s.AccountFailures
}

// Lockout implements the OPEN -> LOCKED(duration) -> OPEN state machine per account and
// per IP.
//
// Failures are counted with an atomic increment-with-TTL, so exactly one concurrent
// caller observes each threshold crossing and applies the lock. The failure counter is
// never decremented: a lock is applied each time the streak reaches a multiple of the
// threshold, and only TTL expiry or RecordSuccess clears it. Lock history survives
// RecordSuccess and expires with EscalationWindow.
type Lockout struct {
	store  rate.Store
	config LockoutConfig
}

// NewLockout builds a lockout policy on store. Zero fields in cfg fall back to
// DefaultLockoutConfig values.
func NewLockout(store rate.Store, cfg LockoutConfig) *Lockout {
	def := DefaultLockoutConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.IPThreshold <= 0 {
		cfg.IPThreshold = def.IPThreshold
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = def.Schedule
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.EscalationWindow <= 0 {
		cfg.EscalationWindow = def.EscalationWindow
	}
	return &Lockout{store: store, config: cfg}
}

func failureKey(scope Scope, id string) string {
	if scope == ScopeIP {
		return "alf:i:" + id
	}
	return "alf:a:" + id
}

func lockKey(scope Scope, id string) string {
	if scope == ScopeIP {
		return "all:i:" + id
	}
	return "all:a:" + id
}

func historyKey(scope Scope, id string) string {
	if scope == ScopeIP {
		return "alh:i:" + id
	}
	return "alh:a:" + id
}

// LockDuration returns the lock length for the n-th lock inside the escalation window.
func (l *Lockout) LockDuration(n int64) time.Duration {
	if n < 1 {
		n = 1
	}
	idx := int(n - 1)
	if idx >= len(l.config.Schedule) {
		idx = len(l.config.Schedule) - 1
	}
	return l.config.Schedule[idx]
}

// Check returns ErrLocked when either the account or the IP is currently locked.
func (l *Lockout) Check(ctx context.Context, account, ip string) error {
	if l == nil {
		return nil
	}
	for _, target := range []struct {
		scope Scope
		id    string
	}{{ScopeAccount, account}, {ScopeIP, ip}} {
		if target.id == "" {
			continue
		}
		_, locked, err := l.store.Get(ctx, lockKey(target.scope, target.id))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		if locked {
			return ErrLocked
		}
	}
	return nil
}

// RecordFailure counts a failed authentication for account and ip, locking any scope
// whose streak reaches a multiple of its threshold.
func (l *Lockout) RecordFailure(ctx context.Context, account, ip string) (Failure, error) {
	var out Failure
	if l == nil {
		return out, nil
	}

	if account != "" {
		n, locked, d, err := l.recordScope(ctx, ScopeAccount, account, l.config.Threshold)
		if err != nil {
			return out, err
		}
		out.AccountFailures = n
		if locked {
			out.Locked = append(out.Locked, ScopeAccount)
			out.Duration = d
		}
	}
	if ip != "" {
		n, locked, d, err := l.recordScope(ctx, ScopeIP, ip, l.config.IPThreshold)
		if err != nil {
			return out, err
		}
		out.IPFailures = n
		if locked {
			out.Locked = append(out.Locked, ScopeIP)
			if d > out.Duration {
				out.Duration = d
			}
		}
	}
	return out, nil
}

func (l *Lockout) recordScope(ctx context.Context, scope Scope, id string, threshold int) (int64, bool, time.Duration, error) {
	count, err := l.store.Incr(ctx, failureKey(scope, id), l.config.FailureWindow)
	if err != nil {
		return 0, false, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if count < int64(threshold) || count%int64(threshold) != 0 {
		return count, false, 0, nil
	}

	locks, err := l.store.Incr(ctx, historyKey(scope, id), l.config.EscalationWindow)
	if err != nil {
		return count, false, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	d := l.LockDuration(locks)
	if err := l.store.Set(ctx, lockKey(scope, id), "1", d); err != nil {
		return count, false, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return count, true, d, nil
}

// RecordSuccess resets the account failure streak. Lock history is kept so escalation
// continues if the campaign resumes.
func (l *Lockout) RecordSuccess(ctx context.Context, account string) error {
	if l == nil || account == "" {
		return nil
	}
	if err := l.store.Del(ctx, failureKey(ScopeAccount, account)); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Unlock clears the lock and failure streak for an account. Lock history is kept.
func (l *Lockout) Unlock(ctx context.Context, account string) error {
	if l == nil || account == "" {
		return nil
	}
	if err := l.store.Del(ctx, lockKey(ScopeAccount, account), failureKey(ScopeAccount, account)); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// State returns failure streaks and lock history for account and ip.
func (l *Lockout) State(ctx context.Context, account, ip string) (State, error) {
	var st State
	if l == nil {
		return st, nil
	}
	var err error
	if account != "" {
		if st.AccountFailures, err = l.store.Count(ctx, failureKey(ScopeAccount, account)); err != nil {
			return st, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		if st.AccountLocks, err = l.store.Count(ctx, historyKey(ScopeAccount, account)); err != nil {
			return st, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}
	if ip != "" {
		if st.IPFailures, err = l.store.Count(ctx, failureKey(ScopeIP, ip)); err != nil {
			return st, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		if st.IPLocks, err = l.store.Count(ctx, historyKey(ScopeIP, ip)); err != nil {
			return st, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}
	return st, nil
}
