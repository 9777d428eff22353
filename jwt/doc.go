// Package jwt issues and verifies ES256 access tokens against a rotating three-slot keyset.
//
// # Keyset
//
// Exactly one CURRENT key signs. CURRENT and NEXT always verify; PREVIOUS verifies only
// for Config.Grace after the promotion that demoted it. The keyset is an immutable
// snapshot swapped with a compare-and-swap, so a Verify that races a Promote sees the
// whole pre- or post-promotion set and never a mix.
//
// # What this package must NOT do
//
//   - persist keys (callers own key storage)
//   - look up sessions or users
//   - decide HTTP status codes
package jwt
