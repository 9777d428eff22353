package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
)

// ErrRiskUnavailable wraps counter store failures for risk flags.
var ErrRiskUnavailable = errors.New("risk flags unavailable")

// IPRiskLevel orders the risk signals known for an IP.
type IPRiskLevel uint8

const (
	IPRiskNone IPRiskLevel = iota
	IPRiskElevated
	IPRiskFlagged
)

// RiskFlags stores TTL-bound risk markers consulted by the captcha gate.
type RiskFlags struct {
	store rate.Store
}

// NewRiskFlags builds flags on store.
func NewRiskFlags(store rate.Store) *RiskFlags {
	return &RiskFlags{store: store}
}

func flaggedIPKey(ip string) string { return "arf:i:" + ip }

func elevatedIPKey(ip string) string { return "are:i:" + ip }

func forcedAccountKey(account string) string { return "acr:a:" + account }

// FlagIP marks ip as flagged for ttl; flagged IPs always require a challenge.
func (f *RiskFlags) FlagIP(ctx context.Context, ip string, ttl time.Duration) error {
	return f.set(ctx, flaggedIPKey(ip), ttl)
}

// MarkIPElevated records a softer signal, such as a session binding mismatch.
func (f *RiskFlags) MarkIPElevated(ctx context.Context, ip string, ttl time.Duration) error {
	return f.set(ctx, elevatedIPKey(ip), ttl)
}

// ForceChallenge requires a challenge for account regardless of other signals.
func (f *RiskFlags) ForceChallenge(ctx context.Context, account string, ttl time.Duration) error {
	return f.set(ctx, forcedAccountKey(account), ttl)
}

// ClearForcedChallenge drops the forced flag once a challenge has been passed.
func (f *RiskFlags) ClearForcedChallenge(ctx context.Context, account string) error {
	if account == "" {
		return nil
	}
	if err := f.store.Del(ctx, forcedAccountKey(account)); err != nil {
		return fmt.Errorf("%w: %v", ErrRiskUnavailable, err)
	}
	return nil
}

// ChallengeForced reports whether account carries a forced-challenge flag.
func (f *RiskFlags) ChallengeForced(ctx context.Context, account string) (bool, error) {
	if account == "" {
		return false, nil
	}
	return f.exists(ctx, forcedAccountKey(account))
}

// IPRisk returns the strongest signal recorded for ip.
func (f *RiskFlags) IPRisk(ctx context.Context, ip string) (IPRiskLevel, error) {
	if ip == "" {
		return IPRiskNone, nil
	}
	flagged, err := f.exists(ctx, flaggedIPKey(ip))
	if err != nil {
		return IPRiskNone, err
	}
	if flagged {
		return IPRiskFlagged, nil
	}
	elevated, err := f.exists(ctx, elevatedIPKey(ip))
	if err != nil {
		return IPRiskNone, err
	}
	if elevated {
		return IPRiskElevated, nil
	}
	return IPRiskNone, nil
}

func (f *RiskFlags) set(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := f.store.Set(ctx, key, "1", ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrRiskUnavailable, err)
	}
	return nil
}

func (f *RiskFlags) exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := f.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRiskUnavailable, err)
	}
	return ok, nil
}
