package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/captcha"
	"github.com/MrEthical07/authcore/mailer"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store/memory"
)

func newEngine(t *testing.T) (*authcore.Engine, authcore.TokenPair) {
	t.Helper()

	cfg := authcore.DefaultConfig()
	cfg.Password.Config = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.TwoFactor.QRSize = 0
	key, err := mfa.GenerateSealKey()
	if err != nil {
		t.Fatalf("GenerateSealKey: %v", err)
	}
	outbox := &mailer.Outbox{}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithSealKey(key).
		WithStore(memory.New(time.Now)).
		WithMailer(outbox).
		WithCaptchaVerifier(captcha.StaticVerifier{Accept: "ok"}).
		WithAuditSink(authcore.NewChannelSink(64)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := authcore.WithClientIP(context.Background(), "203.0.113.9")
	const email, pass = "bob@example.com", "correct horse battery"
	if _, err := engine.Register(ctx, authcore.RegisterRequest{Email: email, Password: pass, CaptchaReceipt: "ok"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	msg, ok := outbox.Last(mailer.KindEmailVerification, email)
	if !ok {
		t.Fatalf("no verification mail")
	}
	if err := engine.VerifyEmail(ctx, msg.Token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	res, err := engine.Login(ctx, authcore.LoginRequest{Email: email, Password: pass})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return engine, *res.Tokens
}

func protected(t *testing.T, h func(http.Handler) http.Handler) http.Handler {
	return h(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Errorf("claims missing from context")
		}
		_, _ = w.Write([]byte(claims.UserID()))
	}))
}

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardModes(t *testing.T) {
	engine, pair := newEngine(t)
	jwtOnly := protected(t, RequireJWTOnly(engine))
	strict := protected(t, RequireStrict(engine))

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer garbage"} {
		if rec := serve(jwtOnly, header); rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rec.Code)
		}
	}

	bearer := "Bearer " + pair.AccessToken
	if rec := serve(jwtOnly, bearer); rec.Code != http.StatusOK || rec.Body.String() == "" {
		t.Fatalf("jwt-only: status = %d body = %q", rec.Code, rec.Body.String())
	}
	if rec := serve(strict, "bearer "+pair.AccessToken); rec.Code != http.StatusOK {
		t.Fatalf("strict: status = %d", rec.Code)
	}

	if err := engine.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if rec := serve(strict, bearer); rec.Code != http.StatusUnauthorized {
		t.Fatalf("strict after logout: status = %d, want 401", rec.Code)
	}
	if rec := serve(jwtOnly, bearer); rec.Code != http.StatusOK {
		t.Fatalf("jwt-only after logout: status = %d, want 200", rec.Code)
	}
}

func TestGuardNilEngine(t *testing.T) {
	rec := serve(Guard(nil, ModeStrict)(http.NotFoundHandler()), "Bearer x")
	if rec.Code == http.StatusOK || rec.Code == http.StatusNotFound {
		t.Fatalf("nil engine must reject, got %d", rec.Code)
	}
}

func TestRemoteIP(t *testing.T) {
	cases := map[string]string{
		"203.0.113.9:5123":  "203.0.113.9",
		"[2001:db8::1]:443": "2001:db8::1",
		"198.51.100.4":      "198.51.100.4",
	}
	for in, want := range cases {
		if got := remoteIP(in); got != want {
			t.Fatalf("remoteIP(%q) = %q, want %q", in, got, want)
		}
	}
}
