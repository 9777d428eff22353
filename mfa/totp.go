package mfa

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpSecretBytes = 20

// TOTPConfig controls code generation and acceptance.
type TOTPConfig struct {
	Issuer string
	// Period is the time step.
	Period time.Duration
	Digits int
	// Skew is how many steps either side of the current one are accepted.
	Skew int
	// QRSize is the edge length of the provisioning QR image; zero disables it.
	QRSize int
}

// DefaultTOTPConfig returns 30 second steps, 6 digits, and one step of skew.
func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{
		Issuer: "authcore",
		Period: 30 * time.Second,
		Digits: 6,
		Skew:   1,
		QRSize: 200,
	}
}

func (c TOTPConfig) validate() error {
	if c.Issuer == "" {
		return errors.New("totp issuer is required")
	}
	if c.Digits != 6 && c.Digits != 8 {
		return errors.New("totp digits must be 6 or 8")
	}
	if c.Period < 15*time.Second || c.Period%time.Second != 0 {
		return errors.New("totp period must be whole seconds and >= 15s")
	}
	if c.Skew < 0 || c.Skew > 2 {
		return errors.New("totp skew must be within [0,2]")
	}
	return nil
}

func (c TOTPConfig) seconds() uint {
	return uint(c.Period / time.Second)
}

func (c TOTPConfig) digits() otp.Digits {
	if c.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

// Provision is a freshly generated TOTP secret with what a client needs to enroll it.
type Provision struct {
	// Secret is the base32 shared secret.
	Secret string
	// URL is the otpauth:// provisioning URI.
	URL string
	// QRCodePNG renders URL; empty when QRSize is zero.
	QRCodePNG []byte
}

// GenerateProvision creates a new secret for account.
func (c TOTPConfig) GenerateProvision(account string) (Provision, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      c.Issuer,
		AccountName: account,
		Period:      c.seconds(),
		SecretSize:  totpSecretBytes,
		Digits:      c.digits(),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Provision{}, err
	}

	out := Provision{Secret: key.Secret(), URL: key.URL()}
	if c.QRSize > 0 {
		img, err := key.Image(c.QRSize, c.QRSize)
		if err != nil {
			return Provision{}, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return Provision{}, err
		}
		out.QRCodePNG = buf.Bytes()
	}
	return out, nil
}

// Match checks code against secret at now and returns the time-step counter it matched.
// Codes of the wrong length or with non-digits never match.
func (c TOTPConfig) Match(secret, code string, now time.Time) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != c.Digits || !isNumeric(code) {
		return 0, false, nil
	}
	if secret == "" {
		return 0, false, errors.New("empty totp secret")
	}

	opts := totp.ValidateOpts{
		Period:    c.seconds(),
		Digits:    c.digits(),
		Algorithm: otp.AlgorithmSHA1,
	}
	step := int64(c.seconds())
	base := now.Unix() / step
	for offset := -c.Skew; offset <= c.Skew; offset++ {
		counter := base + int64(offset)
		if counter < 0 {
			continue
		}
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(counter*step, 0), opts)
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return counter, true, nil
		}
	}
	return 0, false, nil
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
