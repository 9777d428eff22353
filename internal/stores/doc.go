// Package stores keeps short-lived second-factor challenges in the ephemeral counter
// store.
//
// Each record is a versioned binary encoding written with a TTL. Records are single-use:
// Consume reads and deletes atomically, so concurrent redemptions of one challenge id
// cannot both succeed. Attempt counting lives in internal/limiters, not here.
//
// This package must not import authcore or log secret material.
package stores
