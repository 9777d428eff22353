// Package testutil holds fixtures shared by package tests: a controllable clock and a
// miniredis-backed Redis client whose TTLs advance together with that clock.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Env couples a fake clock with a miniredis server.
type Env struct {
	Clock *Clock
	MR    *miniredis.Miniredis
	Redis *redis.Client
}

// NewEnv starts miniredis and registers cleanup on t.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return &Env{
		Clock: NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		MR:    mr,
		Redis: rdb,
	}
}

// Now is the clock's current time.
func (e *Env) Now() time.Time {
	return e.Clock.Now()
}

// Advance moves the fake clock and expires Redis keys by the same amount.
func (e *Env) Advance(d time.Duration) {
	e.Clock.Advance(d)
	e.MR.FastForward(d)
}
