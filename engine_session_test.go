package authcore

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/session"
)

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	te := newTestEngine(t)
	u := te.registerActive(t)
	ctx := clientCtx()
	first := te.login(t).Tokens

	second, err := te.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken || second.SessionID != first.SessionID {
		t.Fatalf("rotation must keep the session and change the token")
	}
	if !second.RefreshExpiresAt.Equal(first.RefreshExpiresAt) {
		t.Fatalf("rotation extended the session: %v -> %v", first.RefreshExpiresAt, second.RefreshExpiresAt)
	}

	other := te.login(t).Tokens

	_, err = te.Refresh(ctx, first.RefreshToken)
	if !errors.Is(err, ErrTokenReuse) {
		t.Fatalf("stale token: expected ErrTokenReuse, got %v", err)
	}
	if HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", HTTPStatus(err))
	}
	ev := te.awaitEvent(t, "refresh_reuse_detected")
	if ev.Severity != AuditCritical || ev.UserID != u.ID {
		t.Fatalf("unexpected audit event: %+v", ev)
	}

	// Reuse ends every session of the user, not only the replayed one.
	for _, tok := range []string{second.RefreshToken, other.RefreshToken} {
		if _, err := te.Refresh(ctx, tok); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid after reuse, got %v", err)
		}
	}
	if got := te.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("RefreshReuseDetected = %d, want 1", got)
	}
}

func TestRefreshWithGuessedSecretIsNotReuse(t *testing.T) {
	te := newTestEngine(t)
	te.registerActive(t)
	ctx := clientCtx()
	pair := te.login(t).Tokens
	other := te.login(t).Tokens

	// The session id is public through the sid claim; the secret is not.
	secret, err := internal.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	guessed, err := internal.EncodeToken(pair.SessionID, secret)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if _, err := te.Refresh(ctx, guessed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 0 {
		t.Fatalf("RefreshReuseDetected = %d, want 0", got)
	}
	for _, tok := range []string{pair.RefreshToken, other.RefreshToken} {
		if _, err := te.Refresh(ctx, tok); err != nil {
			t.Fatalf("sessions must survive a guessed secret: %v", err)
		}
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	te := newTestEngine(t)
	te.registerActive(t)
	pair := te.login(t).Tokens

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := te.Refresh(clientCtx(), pair.RefreshToken); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one rotation, got %d", wins.Load())
	}
}

func TestRefreshRejectsGarbageAndExpired(t *testing.T) {
	te := newTestEngine(t)
	te.registerActive(t)
	ctx := clientCtx()

	if _, err := te.Refresh(ctx, ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("empty: expected ErrTokenInvalid, got %v", err)
	}
	if _, err := te.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage: expected ErrTokenInvalid, got %v", err)
	}

	pair := te.login(t).Tokens
	te.clock.Advance(30*24*time.Hour + time.Second)
	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired: expected ErrTokenInvalid, got %v", err)
	}
}

func TestBindingDriftElevatesNewIP(t *testing.T) {
	te := newTestEngine(t)
	te.registerActive(t)
	pair := te.login(t).Tokens

	moved := WithUserAgent(WithClientIP(context.Background(), "198.51.100.20"), "curl/8.0")
	if _, err := te.Refresh(moved, pair.RefreshToken); err != nil {
		t.Fatalf("advisory binding must not reject: %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricBindingDrift]; got != 1 {
		t.Fatalf("BindingDrift = %d, want 1", got)
	}
	te.awaitEvent(t, "session_binding_drift")

	_, err := te.Login(moved, LoginRequest{Email: testEmail, Password: testPassword})
	if !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("elevated IP: expected ErrCaptchaRequired, got %v", err)
	}
}

func TestStrictBindingRejectsDrift(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Session.Binding = session.BindingStrict })
	te.registerActive(t)
	pair := te.login(t).Tokens

	moved := WithUserAgent(WithClientIP(context.Background(), "198.51.100.20"), "curl/8.0")
	if _, err := te.Refresh(moved, pair.RefreshToken); !errors.Is(err, ErrSessionBindingMismatch) {
		t.Fatalf("expected ErrSessionBindingMismatch, got %v", err)
	}
	if _, err := te.Refresh(clientCtx(), pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("rejected session must be gone, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	te := newTestEngine(t)
	te.registerActive(t)
	ctx := clientCtx()
	pair := te.login(t).Tokens

	if err := te.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := te.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if err := te.Logout(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage: expected ErrTokenInvalid, got %v", err)
	}
	if _, err := te.ValidateSession(ctx, pair.AccessToken); !errors.Is(err, ErrAccessTokenInvalid) {
		t.Fatalf("ValidateSession after logout: %v", err)
	}
	// Stateless validation still accepts the token until it expires.
	if _, err := te.ValidateAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("ValidateAccess after logout: %v", err)
	}
}

func TestLogoutAllAndListSessions(t *testing.T) {
	te := newTestEngine(t)
	u := te.registerActive(t)
	ctx := clientCtx()
	a := te.login(t).Tokens
	b := te.login(t).Tokens

	list, err := te.ListSessions(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("sessions = %d, want 2", len(list))
	}
	if list[0].Network == "" || list[0].UserAgent == "" {
		t.Fatalf("session fingerprint missing: %+v", list[0])
	}

	if err := te.RevokeSession(ctx, u.ID, a.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if err := te.RevokeSession(ctx, "someone-else", b.SessionID); err != nil {
		t.Fatalf("RevokeSession foreign: %v", err)
	}
	if _, err := te.ValidateSession(ctx, b.AccessToken); err != nil {
		t.Fatalf("foreign revoke must not touch the session: %v", err)
	}

	if err := te.LogoutAll(ctx, u.ID); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if list, _ := te.ListSessions(ctx, u.ID); len(list) != 0 {
		t.Fatalf("sessions after LogoutAll = %d", len(list))
	}
}

func TestListSessionsFromFlaggedIPNeedsReceipt(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Captcha.Timeout = 20 * time.Millisecond })
	u := te.registerActive(t)
	ctx := clientCtx()
	te.login(t)

	if err := te.FlagIP(ctx, testIP, time.Hour); err != nil {
		t.Fatalf("FlagIP: %v", err)
	}
	if _, err := te.ListSessions(ctx, u.ID); !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("expected ErrCaptchaRequired, got %v", err)
	}
	if _, err := te.ListSessions(WithCaptchaReceipt(ctx, testReceipt), u.ID); err != nil {
		t.Fatalf("with receipt: %v", err)
	}
	// Low-risk reads fail open when the verifier is down.
	te.Engine.gate = newStuckGate(te.Engine)
	if _, err := te.ListSessions(WithCaptchaReceipt(ctx, testReceipt), u.ID); err != nil {
		t.Fatalf("outage must fail open: %v", err)
	}
}

func TestAccessTokenExpires(t *testing.T) {
	te := newTestEngine(t)
	te.registerActive(t)
	pair := te.login(t).Tokens

	claims, err := te.ValidateAccess(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.SID != pair.SessionID {
		t.Fatalf("sid = %q, want %q", claims.SID, pair.SessionID)
	}
	te.clock.Advance(6 * time.Minute)
	if _, err := te.ValidateAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrAccessTokenInvalid) {
		t.Fatalf("expired: expected ErrAccessTokenInvalid, got %v", err)
	}
}

func TestSigningKeyGrace(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.JWT.KeyGrace = time.Minute })
	te.registerActive(t)
	ctx := context.Background()
	pair := te.login(t).Tokens

	if err := te.PromoteSigningKey(ctx); err != nil {
		t.Fatalf("PromoteSigningKey: %v", err)
	}
	if _, err := te.ValidateAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("inside grace: %v", err)
	}
	fresh := te.login(t).Tokens
	if _, err := te.ValidateAccess(ctx, fresh.AccessToken); err != nil {
		t.Fatalf("new CURRENT: %v", err)
	}

	te.clock.Advance(2 * time.Minute)
	_, err := te.ValidateAccess(ctx, pair.AccessToken)
	if !errors.Is(err, ErrKeyExpired) {
		t.Fatalf("after grace: expected ErrKeyExpired, got %v", err)
	}
	if HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", HTTPStatus(err))
	}

	if err := te.PromoteSigningKey(ctx); err != nil {
		t.Fatalf("second PromoteSigningKey: %v", err)
	}
	if _, err := te.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrKeyRotationMismatch) {
		t.Fatalf("dropped key: expected ErrKeyRotationMismatch, got %v", err)
	}
	if n := len(te.JWKS().Keys); n != 3 {
		t.Fatalf("JWKS keys = %d, want 3", n)
	}
}
