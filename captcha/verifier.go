package captcha

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Verifier checks a receipt with the captcha provider. An error means the provider
// could not give a verdict; a refused receipt is (false, nil).
type Verifier interface {
	Verify(ctx context.Context, receipt, remoteIP string) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, receipt, remoteIP string) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, receipt, remoteIP string) (bool, error) {
	return f(ctx, receipt, remoteIP)
}

// StaticVerifier accepts exactly one receipt value. It is meant for development and
// tests; an empty Accept refuses everything.
type StaticVerifier struct {
	Accept string
}

func (v StaticVerifier) Verify(_ context.Context, receipt, _ string) (bool, error) {
	if v.Accept == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(v.Accept), []byte(receipt)) == 1, nil
}

// SiteVerifier speaks the siteverify protocol shared by reCAPTCHA, hCaptcha and
// Turnstile: a form POST of secret, response and remoteip answered with a JSON verdict.
type SiteVerifier struct {
	endpoint string
	secret   string
	http     *http.Client
}

// NewSiteVerifier builds a verifier for endpoint. A nil client gets a 5 second timeout;
// the gate applies its own shorter deadline per call.
func NewSiteVerifier(endpoint, secret string, client *http.Client) *SiteVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &SiteVerifier{
		endpoint: strings.TrimSpace(endpoint),
		secret:   secret,
		http:     client,
	}
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

func (v *SiteVerifier) Verify(ctx context.Context, receipt, remoteIP string) (bool, error) {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", receipt)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("siteverify: %s", resp.Status)
	}

	var body siteVerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return false, fmt.Errorf("siteverify: decode: %w", err)
	}
	if body.Success {
		return true, nil
	}
	for _, code := range body.ErrorCodes {
		// The provider rejected our own configuration; that is an outage, not a verdict.
		if code == "missing-input-secret" || code == "invalid-input-secret" {
			return false, fmt.Errorf("siteverify: %s", code)
		}
	}
	return false, nil
}
