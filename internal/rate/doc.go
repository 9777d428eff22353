// Package rate provides the keyed, TTL-expiring counter service that backs every piece
// of ephemeral security state: lockout counters, MFA challenges, replay claims and
// captcha risk flags.
//
// # Window semantics
//
// Fixed-window counters: the first [Store.Incr] on a key starts its TTL and later
// increments never extend it. TTL expiry is the only cleanup mechanism; no background
// sweep is needed for correctness.
//
// # Implementations
//
//   - [RedisStore]: shared multi-node state on go-redis. INCR and PEXPIRE run in one Lua
//     call so a crash cannot leave a counter without a TTL.
//   - [MemoryStore]: single-node state behind a mutex, with lazy expiry.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the authcore module.
package rate
