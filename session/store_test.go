package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/testutil"
)

type storeFixture struct {
	store   Store
	now     func() time.Time
	advance func(time.Duration)
}

func storeFixtures(t *testing.T) map[string]storeFixture {
	t.Helper()
	env := testutil.NewEnv(t)
	clock := testutil.NewClock(env.Now())
	return map[string]storeFixture{
		"redis": {
			store:   NewRedisStore(env.Redis, "test").WithClock(env.Now),
			now:     env.Now,
			advance: env.Advance,
		},
		"memory": {
			store:   NewMemoryStore(clock.Now),
			now:     clock.Now,
			advance: clock.Advance,
		},
	}
}

func newTestSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:          id,
		UserID:      userID,
		RefreshHash: [32]byte{1},
		Fingerprint: NewFingerprint("Mozilla/5.0", "203.0.113.7"),
		CreatedAt:   now.Unix(),
		RotatedAt:   now.Unix(),
		ExpiresAt:   now.Add(time.Hour).Unix(),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := newTestSession("", "user-1", time.Unix(1_700_000_000, 0))
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
	if _, err := Decode([]byte{99}); !errors.Is(err, errUnsupportedVersion) {
		t.Fatalf("expected unsupported version error, got %v", err)
	}
	if _, err := Decode(data[:len(data)-3]); err == nil {
		t.Fatal("expected truncated blob to fail")
	}
}

func TestStoreContract(t *testing.T) {
	for name, fx := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := fx.store
			now := fx.now()

			if err := s.Create(ctx, newTestSession("s1", "u1", now)); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := s.Create(ctx, newTestSession("s2", "u1", now)); err != nil {
				t.Fatalf("create: %v", err)
			}

			got, err := s.Get(ctx, "s1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.UserID != "u1" || got.Fingerprint.Network != "203.0.113.0/24" {
				t.Fatalf("unexpected session: %+v", got)
			}

			later := now.Add(time.Minute)
			rotated, err := s.Rotate(ctx, "s1", [32]byte{1}, [32]byte{2}, later)
			if err != nil {
				t.Fatalf("rotate: %v", err)
			}
			if rotated.RefreshHash != [32]byte{2} || rotated.RotatedAt != later.Unix() || rotated.CreatedAt != now.Unix() {
				t.Fatalf("rotate did not splice hash and timestamp: %+v", rotated)
			}

			stale, err := s.Rotate(ctx, "s1", [32]byte{1}, [32]byte{3}, later)
			if !errors.Is(err, ErrReuseDetected) {
				t.Fatalf("expected reuse, got %v", err)
			}
			if stale == nil || stale.UserID != "u1" {
				t.Fatalf("reuse should report the owning user, got %+v", stale)
			}
			if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("reuse should revoke the session, got %v", err)
			}
			if _, err := s.Rotate(ctx, "s1", [32]byte{2}, [32]byte{4}, later); !errors.Is(err, ErrNotFound) {
				t.Fatalf("latest token must die with the session, got %v", err)
			}

			list, err := s.ListForUser(ctx, "u1")
			if err != nil || len(list) != 1 || list[0].ID != "s2" {
				t.Fatalf("expected only s2 listed, got %v (%v)", list, err)
			}

			if err := s.Revoke(ctx, "s2"); err != nil {
				t.Fatalf("revoke: %v", err)
			}
			if err := s.Revoke(ctx, "s2"); err != nil {
				t.Fatalf("second revoke should be a no-op: %v", err)
			}
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	for name, fx := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := fx.store.Create(ctx, newTestSession("s1", "u1", fx.now())); err != nil {
				t.Fatalf("create: %v", err)
			}
			fx.advance(2 * time.Hour)

			if _, err := fx.store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected expired session to be gone, got %v", err)
			}
			_, err := fx.store.Rotate(ctx, "s1", [32]byte{1}, [32]byte{2}, fx.now())
			if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrExpired) {
				t.Fatalf("expected not found or expired, got %v", err)
			}
		})
	}
}

func TestStoreRevokeAllForUser(t *testing.T) {
	for name, fx := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := fx.now()
			for _, id := range []string{"a", "b", "c"} {
				if err := fx.store.Create(ctx, newTestSession(id, "u1", now)); err != nil {
					t.Fatalf("create: %v", err)
				}
			}
			if err := fx.store.Create(ctx, newTestSession("d", "u2", now)); err != nil {
				t.Fatalf("create: %v", err)
			}

			n, err := fx.store.RevokeAllForUser(ctx, "u1")
			if err != nil || n != 3 {
				t.Fatalf("expected 3 revoked, got %d (%v)", n, err)
			}
			if _, err := fx.store.Get(ctx, "d"); err != nil {
				t.Fatalf("other user's session must survive: %v", err)
			}
			if n, _ := fx.store.RevokeAllForUser(ctx, "u1"); n != 0 {
				t.Fatalf("second revoke-all should find nothing, got %d", n)
			}
		})
	}
}

func TestStoreConcurrentRotateExactlyOneWins(t *testing.T) {
	for name, fx := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := fx.store.Create(ctx, newTestSession("s1", "u1", fx.now())); err != nil {
				t.Fatalf("create: %v", err)
			}

			const n = 16
			start := make(chan struct{})
			results := make(chan error, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := fx.store.Rotate(ctx, "s1", [32]byte{1}, [32]byte{byte(10 + i)}, fx.now())
					results <- err
				}(i)
			}
			close(start)
			wg.Wait()
			close(results)

			var ok, reuse int
			for err := range results {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrReuseDetected):
					reuse++
				case errors.Is(err, ErrNotFound):
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if ok != 1 {
				t.Fatalf("expected exactly one successful rotation, got %d", ok)
			}
			if reuse != 1 {
				t.Fatalf("expected exactly one reuse detection before revocation, got %d", reuse)
			}
		})
	}
}
