// Package store defines the durable records behind authentication: users, one-time
// email verification and password reset tokens, and hashed recovery codes.
//
// Implementations live in store/memory and store/postgres. Every state transition that
// the engine relies on for single use (token consumption, recovery code consumption) is
// one atomic operation in the contract so callers never read-then-write.
//
// # What this package must NOT do
//
//   - Hash passwords or tokens (callers pass digests).
//   - Hold plaintext secrets: MFA secrets arrive sealed, codes and tokens as SHA-256.
package store
