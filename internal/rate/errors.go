package rate

import "errors"

var (
	// ErrStoreUnavailable wraps any backend failure of the counter service.
	ErrStoreUnavailable = errors.New("counter store unavailable")
	// ErrNotCounter is returned by Incr/Count when the key holds a non-integer value.
	ErrNotCounter = errors.New("value is not a counter")
)
