package password

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestHashUsesDefaultCostParameters(t *testing.T) {
	hasher, err := NewArgon2(DefaultConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("Password123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}
	if strings.Contains(hash, "Password123!") {
		t.Fatal("hash must not contain the plaintext")
	}

	ok, err := hasher.Verify("Password123!", hash)
	if err != nil || !ok {
		t.Fatalf("expected verify to succeed: ok=%v err=%v", ok, err)
	}
}

func TestHashIsSalted(t *testing.T) {
	hasher, _ := NewArgon2(fastConfig())
	h1, _ := hasher.Hash("same-password")
	h2, _ := hasher.Hash("same-password")
	if h1 == h2 {
		t.Fatal("expected distinct salts to produce distinct hashes")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hasher, _ := NewArgon2(fastConfig())
	hash, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := hasher.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestNeedsUpgrade(t *testing.T) {
	oldHasher, _ := NewArgon2(fastConfig())
	hash, _ := oldHasher.Hash("test-password")

	newHasher, err := NewArgon2(DefaultConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	upgrade, err := newHasher.NeedsUpgrade(hash)
	if err != nil || !upgrade {
		t.Fatalf("expected upgrade for weaker hash: upgrade=%v err=%v", upgrade, err)
	}

	upgrade, err = oldHasher.NeedsUpgrade(hash)
	if err != nil || upgrade {
		t.Fatalf("expected no upgrade for same config: upgrade=%v err=%v", upgrade, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher, _ := NewArgon2(fastConfig())
	for _, bad := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$aGFzaGhhc2hoYXNoaGFzaA",
	} {
		if _, err := hasher.Verify("whatever-password", bad); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("expected ErrInvalidHash for %q, got %v", bad, err)
		}
	}
}

func TestHashEmptyPassword(t *testing.T) {
	hasher, _ := NewArgon2(fastConfig())
	if _, err := hasher.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	cfg = DefaultConfig()
	cfg.SaltLength = 8
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}

func TestCheckPolicy(t *testing.T) {
	if err := CheckPolicy("Password123!"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}
	if err := CheckPolicy("short"); !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected short password rejected, got %v", err)
	}
	if err := CheckPolicy(strings.Repeat("a", MaxBytes+1)); !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected oversized password rejected, got %v", err)
	}
	if err := CheckPolicy("abcdefghij\xff"); !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected invalid utf8 rejected, got %v", err)
	}
}

func TestPoolConcurrentVerify(t *testing.T) {
	hasher, _ := NewArgon2(fastConfig())
	pool := NewPool(hasher, 2)
	hash, err := pool.Hash(context.Background(), "pool-password")
	if err != nil {
		t.Fatalf("pool hash: %v", err)
	}

	var (
		wg     sync.WaitGroup
		passed atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := pool.Verify(context.Background(), "pool-password", hash)
			if err != nil {
				t.Errorf("verify: %v", err)
				return
			}
			if ok {
				passed.Add(1)
			}
		}()
	}
	wg.Wait()

	if passed.Load() != 6 {
		t.Fatalf("expected all verifications to pass, got %d", passed.Load())
	}
	if pool.NeedsUpgrade("not-a-hash") {
		t.Fatal("malformed hashes never report an upgrade")
	}
}

func TestPoolHonoursCancellation(t *testing.T) {
	hasher, _ := NewArgon2(fastConfig())
	pool := NewPool(hasher, 1)
	if err := pool.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer pool.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Hash(ctx, "queued-password"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while queued, got %v", err)
	}
}
