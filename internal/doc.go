// Package internal holds private helpers: token id and secret generation, and client
// network fingerprint normalisation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: lockout, OTP challenge attempts and IP risk flags
//   - metrics: lock-free counters and latency histograms
//   - rate: the keyed TTL counter store (Redis and in-process)
//   - stores: ephemeral MFA challenge records
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
