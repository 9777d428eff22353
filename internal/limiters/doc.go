// Package limiters implements the friction policies built on the internal/rate counter
// service.
//
// # Limiters
//
//   - [Lockout]: progressive account and IP lockout. Five failures lock for 5 minutes,
//     and later locks inside the escalation window last 15 then 60 minutes.
//   - [ChallengeLimiter]: 5 failed guesses per MFA challenge lock it for 5 minutes.
//   - [RiskFlags]: flagged and elevated IPs plus forced-challenge accounts for the captcha gate.
//   - [RequestLimiter]: fixed-window throttle for mail-sending and token-confirm actions.
//
// All limiters are nil-safe where noted and share the injected rate.Store, so a single
// Redis deployment or a single in-process map holds all ephemeral friction state.
//
// # Architecture boundaries
//
// Limiters count and report. The Engine decides consequences: which error class to
// surface, whether to require a captcha, what to audit.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package except internal/rate.
//   - Decrement a failure counter; only TTL expiry or an explicit reset clears it.
package limiters
