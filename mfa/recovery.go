package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
)

// RecoveryCodeAlphabet omits characters that are easy to misread (0/O, 1/I).
const RecoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewRecoveryCode returns length random characters from RecoveryCodeAlphabet.
func NewRecoveryCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(RecoveryCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(RecoveryCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// FormatRecoveryCode splits a canonical code in half with a dash for display.
func FormatRecoveryCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeRecoveryCode undoes display formatting and user typing variations.
func CanonicalizeRecoveryCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// RecoveryCodeHash binds a canonical code to its owner.
func RecoveryCodeHash(userID, canonical string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonical))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonical...)
	return sha256.Sum256(data)
}

// GenerateRecoveryCodes returns n display-formatted codes and their hashes.
func GenerateRecoveryCodes(userID string, n, length int) ([]string, [][32]byte, error) {
	codes := make([]string, 0, n)
	hashes := make([][32]byte, 0, n)
	seen := make(map[string]struct{}, n)
	for len(codes) < n {
		code, err := NewRecoveryCode(length)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, FormatRecoveryCode(code))
		hashes = append(hashes, RecoveryCodeHash(userID, code))
	}
	return codes, hashes, nil
}
