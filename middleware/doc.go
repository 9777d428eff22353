// Package middleware adapts authcore.Engine to net/http.
//
// # Guards
//
//   - [RequireJWTOnly]: stateless access-token verification through the key registry.
//   - [RequireStrict]: access-token verification plus a live-session lookup, so a
//     logged-out session is rejected before its access token expires.
//
// Each guard reads the Authorization header, delegates to the engine and stores the
// verified claims in the request context ([ClaimsFromContext]).
//
// [ClientInfo] copies the remote address and User-Agent into the context so the
// engine can apply IP lockout, captcha risk and session binding. Install it after
// any proxy header rewriting (for example chi's RealIP).
//
// This package makes no authentication decisions of its own.
package middleware
