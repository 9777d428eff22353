package password

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent Argon2 work. Each run holds Config.Memory KiB, so an unbounded
// burst of logins would otherwise exhaust memory and starve request handling.
type Pool struct {
	hasher *Argon2
	sem    *semaphore.Weighted
}

// NewPool wraps hasher with at most workers concurrent runs. workers <= 0 uses GOMAXPROCS.
func NewPool(hasher *Argon2, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{hasher: hasher, sem: semaphore.NewWeighted(int64(workers))}
}

// Hasher exposes the wrapped hasher.
func (p *Pool) Hasher() *Argon2 {
	return p.hasher
}

// Hash waits for a worker slot and hashes password. It returns ctx.Err() if the context
// ends while queued.
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return p.hasher.Hash(password)
}

// Verify waits for a worker slot and verifies password against encodedHash.
func (p *Pool) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.hasher.Verify(password, encodedHash)
}

// NeedsUpgrade reports whether encodedHash should be re-hashed with current parameters.
func (p *Pool) NeedsUpgrade(encodedHash string) bool {
	upgrade, err := p.hasher.NeedsUpgrade(encodedHash)
	return err == nil && upgrade
}
