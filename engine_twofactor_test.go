package authcore

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestEnableTwoFactorRequiresFirstCode(t *testing.T) {
	te := newTestEngine(t)
	u := te.registerActive(t)
	ctx := clientCtx()

	setup, err := te.EnableTwoFactorInit(ctx, u.ID)
	if err != nil {
		t.Fatalf("EnableTwoFactorInit: %v", err)
	}
	if setup.Secret == "" || setup.URL == "" {
		t.Fatalf("incomplete setup: %+v", setup)
	}
	if te.user(t).MFAEnabled {
		t.Fatalf("two-factor enabled before confirmation")
	}

	if _, err := te.EnableTwoFactorComplete(ctx, u.ID, setup.ChallengeID, wrongCode(te.code(t, setup.Secret))); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("wrong code: expected ErrOTPInvalid, got %v", err)
	}
	if _, err := te.EnableTwoFactorComplete(ctx, "someone-else", setup.ChallengeID, te.code(t, setup.Secret)); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("foreign user: expected ErrOTPInvalid, got %v", err)
	}
	codes, err := te.EnableTwoFactorComplete(ctx, u.ID, setup.ChallengeID, te.code(t, setup.Secret))
	if err != nil {
		t.Fatalf("EnableTwoFactorComplete: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("recovery codes = %d, want 10", len(codes))
	}
	if !te.user(t).MFAEnabled {
		t.Fatalf("two-factor not enabled")
	}
	if _, err := te.EnableTwoFactorInit(ctx, u.ID); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("second enrollment: expected ErrTwoFactorAlreadyEnabled, got %v", err)
	}
}

func TestDisableTwoFactorFailsGenerically(t *testing.T) {
	te := newTestEngine(t)
	u := te.registerActive(t)
	secret, _ := te.enableTwoFactor(t, u.ID)
	ctx := clientCtx()

	badPassword := te.DisableTwoFactor(ctx, u.ID, "not my password", te.code(t, secret))
	badCode := te.DisableTwoFactor(ctx, u.ID, testPassword, wrongCode(te.code(t, secret)))
	if !errors.Is(badPassword, ErrDisableFailed) || !errors.Is(badCode, ErrDisableFailed) {
		t.Fatalf("password=%v code=%v", badPassword, badCode)
	}
	if PublicMessage(badPassword) != PublicMessage(badCode) || HTTPStatus(badPassword) != HTTPStatus(badCode) {
		t.Fatalf("failures must be indistinguishable")
	}
	if ev := te.awaitEvent(t, "two_factor_disable_failed"); ev.Metadata["check"] != "password" {
		t.Fatalf("audit check = %q, want password", ev.Metadata["check"])
	}
	if ev := te.awaitEvent(t, "two_factor_disable_failed"); ev.Metadata["check"] != "otp" {
		t.Fatalf("audit check = %q, want otp", ev.Metadata["check"])
	}

	if err := te.DisableTwoFactor(ctx, u.ID, testPassword, te.code(t, secret)); err != nil {
		t.Fatalf("DisableTwoFactor: %v", err)
	}
	if te.user(t).MFAEnabled {
		t.Fatalf("two-factor still enabled")
	}
	if n, _ := te.RecoveryCodesRemaining(ctx, u.ID); n != 0 {
		t.Fatalf("recovery codes survived: %d", n)
	}
	res := te.login(t)
	if res.RequiresTwoFactor || res.Tokens == nil {
		t.Fatalf("login still asks for a second factor")
	}
}

func TestDisableTwoFactorPasswordGuessesLock(t *testing.T) {
	te := newTestEngine(t)
	u := te.registerActive(t)
	secret, _ := te.enableTwoFactor(t, u.ID)
	ctx := clientCtx()

	for i := 1; i <= 5; i++ {
		if err := te.DisableTwoFactor(ctx, u.ID, "not my password", "000000"); !errors.Is(err, ErrDisableFailed) {
			t.Fatalf("attempt %d: expected ErrDisableFailed, got %v", i, err)
		}
	}
	err := te.DisableTwoFactor(ctx, u.ID, testPassword, te.code(t, secret))
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("after five guesses: expected ErrAccountLocked, got %v", err)
	}
	if HTTPStatus(err) != http.StatusLocked {
		t.Fatalf("status = %d, want 423", HTTPStatus(err))
	}
	if !te.user(t).MFAEnabled {
		t.Fatalf("two-factor disabled through a lock")
	}
	// The lock is the account lock, so login is blocked as well.
	if _, err := te.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword, CaptchaReceipt: testReceipt}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("login: expected ErrAccountLocked, got %v", err)
	}
	te.awaitEvent(t, "lockout_applied")

	te.clock.Advance(5*time.Minute + time.Second)
	if err := te.DisableTwoFactor(ctx, u.ID, testPassword, te.code(t, secret)); err != nil {
		t.Fatalf("after lock expiry: %v", err)
	}
}

func TestRegenerateRecoveryCodes(t *testing.T) {
	te := newTestEngine(t)
	u := te.registerActive(t)
	ctx := clientCtx()

	if _, err := te.RegenerateRecoveryCodes(ctx, u.ID, "123456"); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("not enrolled: expected ErrTwoFactorNotEnabled, got %v", err)
	}

	secret, old := te.enableTwoFactor(t, u.ID)
	fresh, err := te.RegenerateRecoveryCodes(ctx, u.ID, te.code(t, secret))
	if err != nil {
		t.Fatalf("RegenerateRecoveryCodes: %v", err)
	}
	if len(fresh) != 10 {
		t.Fatalf("codes = %d, want 10", len(fresh))
	}

	res := te.login(t)
	if _, err := te.RecoveryLogin(ctx, RecoveryLoginRequest{ChallengeID: res.ChallengeID, Code: old[0]}); !errors.Is(err, ErrRecoveryCodeInvalid) {
		t.Fatalf("old code: expected ErrRecoveryCodeInvalid, got %v", err)
	}
	if _, err := te.RecoveryLogin(ctx, RecoveryLoginRequest{ChallengeID: res.ChallengeID, Code: fresh[0]}); err != nil {
		t.Fatalf("fresh code: %v", err)
	}
}

func TestOutOfChallengeFailuresLockTheUser(t *testing.T) {
	te := newTestEngine(t)
	u := te.registerActive(t)
	secret, _ := te.enableTwoFactor(t, u.ID)
	ctx := clientCtx()

	bad := wrongCode(te.code(t, secret))
	var err error
	for i := 0; i < 5; i++ {
		_, err = te.RegenerateRecoveryCodes(ctx, u.ID, bad)
	}
	if !errors.Is(err, ErrTwoFactorLocked) {
		t.Fatalf("expected ErrTwoFactorLocked, got %v", err)
	}
	if HTTPStatus(err) != http.StatusLocked {
		t.Fatalf("status = %d, want 423", HTTPStatus(err))
	}
	if err := te.DisableTwoFactor(ctx, u.ID, testPassword, te.code(t, secret)); !errors.Is(err, ErrTwoFactorLocked) {
		t.Fatalf("disable during lock: expected ErrTwoFactorLocked, got %v", err)
	}

	te.clock.Advance(5*time.Minute + time.Second)
	if _, err := te.RegenerateRecoveryCodes(ctx, u.ID, te.code(t, secret)); err != nil {
		t.Fatalf("after lock: %v", err)
	}
}
