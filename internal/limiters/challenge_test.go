package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/testutil"
)

func TestChallengeLimiterLocksAfterFiveFailures(t *testing.T) {
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	l := NewChallengeLimiter(rate.NewMemoryStore(clock.Now), ChallengeLimiterConfig{})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		locked, err := l.RecordFailure(ctx, "ch-1")
		if err != nil || locked {
			t.Fatalf("attempt %d: locked=%v err=%v", i, locked, err)
		}
	}
	locked, err := l.RecordFailure(ctx, "ch-1")
	if err != nil || !locked {
		t.Fatalf("fifth attempt must lock: locked=%v err=%v", locked, err)
	}
	if err := l.Check(ctx, "ch-1"); !errors.Is(err, ErrChallengeLocked) {
		t.Fatalf("expected ErrChallengeLocked, got %v", err)
	}
	if err := l.Check(ctx, "ch-2"); err != nil {
		t.Fatalf("other challenges unaffected, got %v", err)
	}

	clock.Advance(5*time.Minute + time.Second)
	if err := l.Check(ctx, "ch-1"); err != nil {
		t.Fatalf("expected unlock after 5m, got %v", err)
	}

	locked, err = l.RecordFailure(ctx, "ch-1")
	if err != nil || locked {
		t.Fatalf("streak should restart after lock: locked=%v err=%v", locked, err)
	}
}

func TestRiskFlags(t *testing.T) {
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	f := NewRiskFlags(rate.NewMemoryStore(clock.Now))
	ctx := context.Background()

	level, err := f.IPRisk(ctx, "192.0.2.1")
	if err != nil || level != IPRiskNone {
		t.Fatalf("expected no risk, got %v err=%v", level, err)
	}

	if err := f.MarkIPElevated(ctx, "192.0.2.1", time.Hour); err != nil {
		t.Fatalf("mark elevated: %v", err)
	}
	if level, _ = f.IPRisk(ctx, "192.0.2.1"); level != IPRiskElevated {
		t.Fatalf("expected elevated, got %v", level)
	}
	if err := f.FlagIP(ctx, "192.0.2.1", time.Minute); err != nil {
		t.Fatalf("flag: %v", err)
	}
	if level, _ = f.IPRisk(ctx, "192.0.2.1"); level != IPRiskFlagged {
		t.Fatalf("flag must dominate, got %v", level)
	}
	clock.Advance(2 * time.Minute)
	if level, _ = f.IPRisk(ctx, "192.0.2.1"); level != IPRiskElevated {
		t.Fatalf("expected flag to expire back to elevated, got %v", level)
	}

	if err := f.ForceChallenge(ctx, "u1", time.Hour); err != nil {
		t.Fatalf("force: %v", err)
	}
	if forced, _ := f.ChallengeForced(ctx, "u1"); !forced {
		t.Fatal("expected forced challenge")
	}
	if err := f.ClearForcedChallenge(ctx, "u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if forced, _ := f.ChallengeForced(ctx, "u1"); forced {
		t.Fatal("expected forced flag cleared")
	}
}
