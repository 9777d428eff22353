package password

import (
	"errors"
	"unicode/utf8"
)

const (
	// MinBytes is the shortest accepted password.
	MinBytes = 10
	// MaxBytes caps input so a single request cannot pin a hashing worker on huge input.
	MaxBytes = 1024
)

// ErrPolicy is returned for passwords outside the accepted length range or with invalid
// UTF-8.
var ErrPolicy = errors.New("password policy violation")

// CheckPolicy validates a candidate password before it is hashed.
func CheckPolicy(password string) error {
	if len(password) < MinBytes || len(password) > MaxBytes || !utf8.ValidString(password) {
		return ErrPolicy
	}
	return nil
}
