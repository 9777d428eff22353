// Package authcore is the security core of an authentication service: registration with
// email verification, password login with progressive lockout, TOTP second factor with
// recovery codes, rotating refresh sessions with reuse detection, ES256 access tokens
// over a rotating keyset, and a risk-based captcha gate.
//
// Engine methods are safe to call from multiple goroutines once [Builder.Build] returns.
//
// # Architecture boundaries
//
// authcore is the public surface: [Engine], [Builder], [Config], the request and result
// value types, and the error taxonomy ([KindOf], [HTTPStatus], [PublicMessage]). The
// building blocks live in sub-packages (jwt, session, password, mfa, captcha, store,
// mailer) and internal/ holds counters, limiters, audit dispatch and metrics.
//
// # Client context
//
// The client IP and user agent are read from the context. HTTP adapters attach them with
// [WithClientIP] and [WithUserAgent], and a captcha receipt with [WithCaptchaReceipt]
// for operations whose request type has no receipt field.
//
// # Errors
//
// Every error returned by an Engine method matches one of the Err* sentinels with
// errors.Is. Responses must be built from [PublicMessage], never from err.Error().
package authcore
