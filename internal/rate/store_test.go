package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/testutil"
)

type storeCase struct {
	name    string
	store   Store
	advance func(time.Duration)
}

func newStoreCases(t *testing.T) []storeCase {
	t.Helper()
	env := testutil.NewEnv(t)
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	return []storeCase{
		{name: "redis", store: NewRedisStore(env.Redis), advance: env.MR.FastForward},
		{name: "memory", store: NewMemoryStore(clock.Now), advance: clock.Advance},
	}
}

func TestIncrStartsWindowOnFirstHit(t *testing.T) {
	for _, tc := range newStoreCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			for want := int64(1); want <= 3; want++ {
				got, err := tc.store.Incr(ctx, "c:1", time.Minute)
				if err != nil {
					t.Fatalf("incr: %v", err)
				}
				if got != want {
					t.Fatalf("expected %d, got %d", want, got)
				}
			}

			tc.advance(40 * time.Second)
			if _, err := tc.store.Incr(ctx, "c:1", time.Minute); err != nil {
				t.Fatalf("incr: %v", err)
			}
			tc.advance(21 * time.Second)

			count, err := tc.store.Count(ctx, "c:1")
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if count != 0 {
				t.Fatalf("expected window to expire from first hit, got %d", count)
			}
		})
	}
}

func TestIncrConcurrentNoUndercount(t *testing.T) {
	for _, tc := range newStoreCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 40

			var (
				wg    sync.WaitGroup
				start = make(chan struct{})
				mu    sync.Mutex
				seen  = map[int64]bool{}
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					n, err := tc.store.Incr(ctx, "c:race", time.Minute)
					if err != nil {
						t.Errorf("incr: %v", err)
						return
					}
					mu.Lock()
					seen[n] = true
					mu.Unlock()
				}()
			}
			close(start)
			wg.Wait()

			if len(seen) != workers {
				t.Fatalf("expected %d distinct values, got %d", workers, len(seen))
			}
			count, err := tc.store.Count(ctx, "c:race")
			if err != nil || count != workers {
				t.Fatalf("expected count %d, got %d err=%v", workers, count, err)
			}
		})
	}
}

func TestSetNXClaimsOnce(t *testing.T) {
	for _, tc := range newStoreCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := tc.store.SetNX(ctx, "claim", "a", time.Minute)
			if err != nil || !ok {
				t.Fatalf("first claim: ok=%v err=%v", ok, err)
			}
			ok, err = tc.store.SetNX(ctx, "claim", "b", time.Minute)
			if err != nil || ok {
				t.Fatalf("second claim must fail: ok=%v err=%v", ok, err)
			}

			tc.advance(time.Minute + time.Second)
			ok, err = tc.store.SetNX(ctx, "claim", "c", time.Minute)
			if err != nil || !ok {
				t.Fatalf("claim after expiry: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestTakeIsSingleUse(t *testing.T) {
	for _, tc := range newStoreCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if err := tc.store.Set(ctx, "k", "v", time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			v, ok, err := tc.store.Take(ctx, "k")
			if err != nil || !ok || v != "v" {
				t.Fatalf("take: v=%q ok=%v err=%v", v, ok, err)
			}
			_, ok, err = tc.store.Take(ctx, "k")
			if err != nil || ok {
				t.Fatalf("second take must miss: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestTTLAndDel(t *testing.T) {
	for _, tc := range newStoreCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if err := tc.store.Set(ctx, "lock", "1", 5*time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			ttl, err := tc.store.TTL(ctx, "lock")
			if err != nil {
				t.Fatalf("ttl: %v", err)
			}
			if ttl <= 4*time.Minute || ttl > 5*time.Minute {
				t.Fatalf("unexpected ttl %v", ttl)
			}
			if err := tc.store.Del(ctx, "lock", "missing"); err != nil {
				t.Fatalf("del: %v", err)
			}
			ttl, err = tc.store.TTL(ctx, "lock")
			if err != nil || ttl != 0 {
				t.Fatalf("expected zero ttl after delete, got %v err=%v", ttl, err)
			}
			if _, ok, _ := tc.store.Get(ctx, "lock"); ok {
				t.Fatal("expected key to be gone")
			}
		})
	}
}

func TestIncrOnNonCounter(t *testing.T) {
	for _, tc := range newStoreCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if err := tc.store.Set(ctx, "blob", "not-a-number", time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			if _, err := tc.store.Incr(ctx, "blob", time.Minute); !errors.Is(err, ErrNotCounter) {
				t.Fatalf("expected ErrNotCounter, got %v", err)
			}
		})
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	env := testutil.NewEnv(t)
	store := NewRedisStore(env.Redis)
	env.MR.Close()

	if _, err := store.Incr(context.Background(), "k", time.Minute); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
