package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/captcha"
	"github.com/MrEthical07/authcore/mailer"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store/memory"
)

const (
	email      = "carol@example.com"
	pass       = "correct horse battery"
	adminToken = "admin-secret"
)

type fixture struct {
	t      *testing.T
	server *httptest.Server
	outbox *mailer.Outbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := authcore.DefaultConfig()
	cfg.Password.Config = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.TwoFactor.QRSize = 0
	key, err := mfa.GenerateSealKey()
	require.NoError(t, err)

	outbox := &mailer.Outbox{}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithSealKey(key).
		WithStore(memory.New(time.Now)).
		WithMailer(outbox).
		WithCaptchaVerifier(captcha.StaticVerifier{Accept: "ok"}).
		WithAuditSink(authcore.NewChannelSink(256)).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	handler, err := NewRouter(Options{Engine: engine, AdminToken: adminToken})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &fixture{t: t, server: srv, outbox: outbox}
}

func (f *fixture) do(method, path, bearer string, body any) (*http.Response, []byte) {
	f.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rdr)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "httpapi-test/1.0")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp, data
}

func (f *fixture) signup() tokenResponse {
	f.t.Helper()
	resp, _ := f.do(http.MethodPost, "/v1/auth/register", "", credentialsRequest{Email: email, Password: pass, CaptchaReceipt: "ok"})
	require.Equal(f.t, http.StatusAccepted, resp.StatusCode)

	msg, ok := f.outbox.Last(mailer.KindEmailVerification, email)
	require.True(f.t, ok, "verification mail")
	resp, _ = f.do(http.MethodPost, "/v1/auth/verify-email", "", tokenRequest{Token: msg.Token})
	require.Equal(f.t, http.StatusNoContent, resp.StatusCode)

	resp, body := f.do(http.MethodPost, "/v1/auth/login", "", credentialsRequest{Email: email, Password: pass})
	require.Equal(f.t, http.StatusOK, resp.StatusCode, string(body))
	var out loginResponse
	require.NoError(f.t, json.Unmarshal(body, &out))
	require.NotNil(f.t, out.Tokens)
	return *out.Tokens
}

func TestAccountLifecycle(t *testing.T) {
	f := newFixture(t)
	tokens := f.signup()
	assert.Equal(t, "Bearer", tokens.TokenType)

	resp, body := f.do(http.MethodGet, "/v1/account/", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), tokens.SessionID)

	resp, body = f.do(http.MethodGet, "/v1/account/sessions", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessions struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(body, &sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.True(t, sessions.Sessions[0].Current)
	assert.Equal(t, "httpapi-test/1.0", sessions.Sessions[0].UserAgent)

	resp, body = f.do(http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: tokens.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rotated tokenResponse
	require.NoError(t, json.Unmarshal(body, &rotated))
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// Replaying the rotated token revokes everything.
	resp, body = f.do(http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotContains(t, string(body), "reuse")
	resp, _ = f.do(http.MethodGet, "/v1/account/", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginErrorsAreGeneric(t *testing.T) {
	f := newFixture(t)
	f.signup()

	resp, wrong := f.do(http.MethodPost, "/v1/auth/login", "", credentialsRequest{Email: email, Password: "nope", CaptchaReceipt: "ok"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, unknown := f.do(http.MethodPost, "/v1/auth/login", "", credentialsRequest{Email: "nobody@example.com", Password: "nope", CaptchaReceipt: "ok"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, string(wrong), string(unknown))

	resp, _ = f.do(http.MethodPost, "/v1/auth/login", "", credentialsRequest{Email: email, Password: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "a failure streak demands a captcha")

	for i := 0; i < 4; i++ {
		f.do(http.MethodPost, "/v1/auth/login", "", credentialsRequest{Email: email, Password: "nope", CaptchaReceipt: "ok"})
	}
	resp, _ = f.do(http.MethodPost, "/v1/auth/login", "", credentialsRequest{Email: email, Password: pass, CaptchaReceipt: "ok"})
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/v1/auth/login", strings.NewReader("{"))
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestForgotPasswordAlwaysAccepted(t *testing.T) {
	f := newFixture(t)
	f.signup()
	for _, addr := range []string{email, "ghost@example.com"} {
		resp, _ := f.do(http.MethodPost, "/v1/auth/password/forgot", "", map[string]string{"email": addr})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	_, ok := f.outbox.Last(mailer.KindPasswordReset, "ghost@example.com")
	assert.False(t, ok)
}

func TestJWKSAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.signup()

	resp, body := f.do(http.MethodGet, "/.well-known/jwks.json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(body, &set))
	assert.GreaterOrEqual(t, len(set.Keys), 2)

	resp, body = f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, "authcore_login_success_total 1")
	assert.Contains(t, text, `http_requests_total{method="POST",route="/v1/auth/login",status="200"} 1`)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t)
	f.signup()

	resp, _ := f.do(http.MethodGet, "/v1/admin/security-report", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(http.MethodGet, "/v1/admin/security-report", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := f.do(http.MethodGet, "/v1/admin/security-report", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ES256")

	resp, _ = f.do(http.MethodPost, "/v1/admin/flag-ip", adminToken, map[string]string{"ip": "198.51.100.1", "ttl": "1h"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(http.MethodPost, "/v1/admin/flag-ip", adminToken, map[string]string{"ip": "198.51.100.1", "ttl": "soon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(http.MethodPost, "/v1/admin/keys/promote", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"keys"`)

	resp, _ = f.do(http.MethodPost, "/v1/admin/unlock", adminToken, map[string]string{"email": email})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(http.MethodPost, "/v1/admin/users/missing/disable", adminToken, nil)
	assert.NotEqual(t, http.StatusNoContent, resp.StatusCode)
}
