package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/testutil"
	"github.com/MrEthical07/authcore/store"
)

func newUser(t *testing.T, s *Store, email string) *store.User {
	t.Helper()
	u := &store.User{Email: email, Status: store.StatusUnverified, PasswordHash: "h"}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	s := New(nil)
	newUser(t, s, "a@x.com")
	err := s.CreateUser(context.Background(), &store.User{Email: "a@x.com"})
	if !errors.Is(err, store.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestDeleteUserFreesEmailAndTokens(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	u := newUser(t, s, "a@x.com")
	if err := s.IssueToken(ctx, &store.OneTimeToken{ID: "t1", UserID: u.ID, Purpose: store.PurposeEmailVerification, ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.UserByEmail(ctx, "a@x.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	newUser(t, s, "a@x.com")
}

func TestTokenSingleUseAndSupersede(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := New(clock.Now)
	u := newUser(t, s, "a@x.com")

	first := &store.OneTimeToken{ID: "t1", UserID: u.ID, Purpose: store.PurposePasswordReset, Hash: [32]byte{1}, ExpiresAt: clock.Now().Add(time.Hour)}
	if err := s.IssueToken(ctx, first); err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.Advance(time.Second)
	second := &store.OneTimeToken{ID: "t2", UserID: u.ID, Purpose: store.PurposePasswordReset, Hash: [32]byte{2}, ExpiresAt: clock.Now().Add(time.Hour)}
	if err := s.IssueToken(ctx, second); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := s.ConsumeToken(ctx, "t1", store.PurposePasswordReset, [32]byte{1}, clock.Now()); !errors.Is(err, store.ErrTokenInvalid) {
		t.Fatalf("superseded token must be inert, got %v", err)
	}
	if _, err := s.ConsumeToken(ctx, "t2", store.PurposeEmailVerification, [32]byte{2}, clock.Now()); !errors.Is(err, store.ErrTokenInvalid) {
		t.Fatalf("wrong purpose must fail, got %v", err)
	}
	if _, err := s.ConsumeToken(ctx, "t2", store.PurposePasswordReset, [32]byte{9}, clock.Now()); !errors.Is(err, store.ErrTokenInvalid) {
		t.Fatalf("wrong hash must fail, got %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeToken(ctx, "t2", store.PurposePasswordReset, [32]byte{2}, clock.Now()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one consumption, got %d", wins)
	}
}

func TestTokenExpiry(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := New(clock.Now)
	u := newUser(t, s, "a@x.com")
	if err := s.IssueToken(ctx, &store.OneTimeToken{ID: "t1", UserID: u.ID, Purpose: store.PurposePasswordReset, Hash: [32]byte{1}, ExpiresAt: clock.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := s.ConsumeToken(ctx, "t1", store.PurposePasswordReset, [32]byte{1}, clock.Now()); !errors.Is(err, store.ErrTokenInvalid) {
		t.Fatalf("expired token must fail, got %v", err)
	}
	latest, err := s.LatestToken(ctx, u.ID, store.PurposePasswordReset)
	if err != nil || latest.ID != "t1" {
		t.Fatalf("expired unused token still listed as latest: %v %v", latest, err)
	}
}

func TestConsumeRecoveryCodeRotatesRemaining(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	u := newUser(t, s, "a@x.com")
	codes := [][32]byte{{1}, {2}, {3}}
	if err := s.EnableMFA(ctx, u.ID, []byte("sealed"), codes); err != nil {
		t.Fatalf("enable: %v", err)
	}

	var asked int
	ok, err := s.ConsumeRecoveryCode(ctx, u.ID, [32]byte{2}, func(n int) ([][32]byte, error) {
		asked = n
		return [][32]byte{{7}, {8}}, nil
	})
	if err != nil || !ok {
		t.Fatalf("consume: ok=%v err=%v", ok, err)
	}
	if asked != 2 {
		t.Fatalf("expected rotation of 2 remaining, got %d", asked)
	}
	for _, old := range codes {
		if ok, _ := s.ConsumeRecoveryCode(ctx, u.ID, old, func(int) ([][32]byte, error) { return nil, nil }); ok {
			t.Fatalf("old code %v must not survive rotation", old[0])
		}
	}
	if n, _ := s.RecoveryCodeCount(ctx, u.ID); n != 2 {
		t.Fatalf("expected 2 codes, got %d", n)
	}

	if err := s.DisableMFA(ctx, u.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if n, _ := s.RecoveryCodeCount(ctx, u.ID); n != 0 {
		t.Fatalf("disable must drop codes, got %d", n)
	}
	got, _ := s.UserByID(ctx, u.ID)
	if got.MFAEnabled || got.MFASecret != nil {
		t.Fatalf("disable must clear mfa state: %+v", got)
	}
}
