// Package session owns refresh sessions: the [Session] model, its binary encoding, the
// [Store] contract with Redis and in-process implementations, and the [Manager] that
// issues and rotates access/refresh token pairs.
//
// # Rotation
//
// A refresh token is base64url(sessionID || secret). Only SHA-256(secret) is stored.
// Rotation is a compare-and-swap on that hash: the caller presenting the current hash
// wins, and any caller presenting an older hash observes [ErrReuseDetected], after which
// the session is gone. Two concurrent rotations with the same token therefore yield
// exactly one success and one reuse.
//
// # Binding
//
// Each session is bound to a [Fingerprint] (user agent and IP /24). Drift is reported to
// the caller as a risk signal; only [BindingStrict] turns it into a rejection.
//
// # What this package must NOT do
//
//   - Import authcore (no upward imports).
//   - Store plaintext refresh secrets.
//   - Decide captcha or lockout policy.
package session
