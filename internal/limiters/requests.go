package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
)

var (
	// ErrRequestRateLimited is returned once a fixed window is exhausted.
	ErrRequestRateLimited = errors.New("request rate limited")
	// ErrRequestLimiterUnavailable wraps counter store failures.
	ErrRequestLimiterUnavailable = errors.New("request limiter unavailable")
)

// RequestConfig bounds how often one identifier and one IP may hit an action.
type RequestConfig struct {
	// Action namespaces the counters, e.g. "forgot" or "register".
	Action string
	// MaxPerIdentifier is the budget per identifier per window; zero disables it.
	MaxPerIdentifier int
	// MaxPerIP is the budget per IP per window; zero disables it.
	MaxPerIP int
	Window   time.Duration
}

// RequestLimiter is a fixed-window throttle for mail-sending and token-confirm actions.
type RequestLimiter struct {
	store  rate.Store
	config RequestConfig
}

// NewRequestLimiter builds a limiter. A zero Window defaults to one hour.
func NewRequestLimiter(store rate.Store, cfg RequestConfig) *RequestLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &RequestLimiter{store: store, config: cfg}
}

// Allow spends one unit from the identifier and IP windows. Both are charged even when
// the first is already exhausted so an attacker cannot probe which one tripped.
func (l *RequestLimiter) Allow(ctx context.Context, identifier, ip string) error {
	if l == nil {
		return nil
	}
	limited := false
	if l.config.MaxPerIdentifier > 0 && identifier != "" {
		over, err := l.spend(ctx, "arq:"+l.config.Action+":id:"+identifier, l.config.MaxPerIdentifier)
		if err != nil {
			return err
		}
		limited = limited || over
	}
	if l.config.MaxPerIP > 0 && ip != "" {
		over, err := l.spend(ctx, "arq:"+l.config.Action+":ip:"+ip, l.config.MaxPerIP)
		if err != nil {
			return err
		}
		limited = limited || over
	}
	if limited {
		return ErrRequestRateLimited
	}
	return nil
}

func (l *RequestLimiter) spend(ctx context.Context, key string, max int) (bool, error) {
	count, err := l.store.Incr(ctx, key, l.config.Window)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRequestLimiterUnavailable, err)
	}
	return count > int64(max), nil
}
