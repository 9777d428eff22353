// Package mfa implements TOTP second-factor enrollment and verification.
//
// Secrets are generated and checked with github.com/pquerna/otp (30 second steps,
// 6 digits, one step of skew) and stored sealed with XChaCha20-Poly1305. Each accepted
// time step is burned in the counter store, so a code cannot be replayed inside the
// skew window. Five failed guesses lock a challenge for five minutes and flag the
// account for a captcha.
//
// Recovery codes are single-use. Redeeming one replaces every remaining code, so a
// leaked printout is worthless after its first use.
package mfa
