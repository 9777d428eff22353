package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/MrEthical07/authcore/captcha"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/testutil"
	"github.com/MrEthical07/authcore/mailer"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/memory"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct horse battery"
	testIP       = "203.0.113.7"
	testReceipt  = "ok"
)

type testEngine struct {
	*Engine
	clock  *testutil.Clock
	users  *memory.Store
	outbox *mailer.Outbox
	sink   *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Config = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.TwoFactor.QRSize = 0
	cfg.Audit.SinkTimeout = 100 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *testEngine {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	key, err := mfa.GenerateSealKey()
	if err != nil {
		t.Fatalf("GenerateSealKey: %v", err)
	}

	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	users := memory.New(clock.Now)
	outbox := &mailer.Outbox{}
	sink := NewChannelSink(1024)

	engine, err := New().
		WithConfig(cfg).
		WithSealKey(key).
		WithClock(clock.Now).
		WithStore(users).
		WithCounterStore(rate.NewMemoryStore(clock.Now)).
		WithSessionStore(session.NewMemoryStore(clock.Now)).
		WithMailer(outbox).
		WithCaptchaVerifier(captcha.StaticVerifier{Accept: testReceipt}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	return &testEngine{Engine: engine, clock: clock, users: users, outbox: outbox, sink: sink}
}

func clientCtx() context.Context {
	ctx := WithClientIP(context.Background(), testIP)
	return WithUserAgent(ctx, "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0")
}

// registerActive registers and verifies testEmail.
func (te *testEngine) registerActive(t *testing.T) *store.User {
	t.Helper()
	ctx := clientCtx()
	if _, err := te.Register(ctx, RegisterRequest{Email: testEmail, Password: testPassword, CaptchaReceipt: testReceipt}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	msg, ok := te.outbox.Last(mailer.KindEmailVerification, testEmail)
	if !ok {
		t.Fatalf("no verification mail sent")
	}
	if err := te.VerifyEmail(ctx, msg.Token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	return te.user(t)
}

func (te *testEngine) user(t *testing.T) *store.User {
	t.Helper()
	u, err := te.users.UserByEmail(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("UserByEmail: %v", err)
	}
	return u
}

func (te *testEngine) login(t *testing.T) LoginResult {
	t.Helper()
	res, err := te.Login(clientCtx(), LoginRequest{Email: testEmail, Password: testPassword, CaptchaReceipt: testReceipt})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

func (te *testEngine) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, te.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}
	return code
}

// enableTwoFactor enrolls userID and returns the secret and recovery codes. The clock is
// moved one step past enrollment so the next code is not a replay.
func (te *testEngine) enableTwoFactor(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := clientCtx()
	setup, err := te.EnableTwoFactorInit(ctx, userID)
	if err != nil {
		t.Fatalf("EnableTwoFactorInit: %v", err)
	}
	codes, err := te.EnableTwoFactorComplete(ctx, userID, setup.ChallengeID, te.code(t, setup.Secret))
	if err != nil {
		t.Fatalf("EnableTwoFactorComplete: %v", err)
	}
	te.clock.Advance(30 * time.Second)
	return setup.Secret, codes
}

// awaitEvent drains audit events until one of eventType arrives.
func (te *testEngine) awaitEvent(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-te.sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q audit event", eventType)
			return AuditEvent{}
		}
	}
}

func wrongCode(right string) string {
	if right == "000000" {
		return "111111"
	}
	return "000000"
}

func TestBuildRequiresStoreAndSealKey(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("missing store: expected ErrInvalidConfig, got %v", err)
	}

	clock := testutil.NewClock(time.Now())
	if _, err := New().WithConfig(testConfig()).WithStore(memory.New(clock.Now)).Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("missing seal key: expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	key, _ := mfa.GenerateSealKey()
	clock := testutil.NewClock(time.Now())
	b := New().WithConfig(testConfig()).WithSealKey(key).WithStore(memory.New(clock.Now))
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("second Build: expected ErrBuilderUsed, got %v", err)
	}
}

func TestSecurityReportReflectsConfig(t *testing.T) {
	te := newTestEngine(t)
	r := te.SecurityReport()
	if r.SigningAlgorithm != "ES256" {
		t.Fatalf("algorithm = %q", r.SigningAlgorithm)
	}
	if r.AccessTTL != 5*time.Minute || r.LockoutThreshold != 5 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.ActiveKeys < 2 {
		t.Fatalf("expected CURRENT and NEXT keys, got %d", r.ActiveKeys)
	}
	if r.SessionBinding != "advisory" {
		t.Fatalf("binding = %q", r.SessionBinding)
	}
}
