package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/MrEthical07/authcore/internal"
)

const (
	tagKeyInfo = "authcore refresh tag v1"
	tagKeySize = 32
	// tagOffset splits a refresh secret into 16 random bytes and a 16-byte tag.
	tagOffset = 16
)

// DeriveTagKey derives the refresh-token tag key from a deployment master key. Every
// replica must derive it from the same master.
func DeriveTagKey(master []byte) ([]byte, error) {
	if len(master) < 32 {
		return nil, errors.New("session: tag master key must be at least 32 bytes")
	}
	key := make([]byte, tagKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(tagKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("session: derive tag key: %w", err)
	}
	return key, nil
}

// newSecret returns a refresh secret for session id. With a tag key the second half of
// the secret is an HMAC over id and the first half.
func (m *Manager) newSecret(id string) (internal.Secret, error) {
	secret, err := internal.NewSecret()
	if err != nil || len(m.config.TagKey) == 0 {
		return secret, err
	}
	copy(secret[tagOffset:], m.tag(id, secret))
	return secret, nil
}

// issued reports whether secret was minted by this deployment for id. Without a tag key
// every secret passes.
func (m *Manager) issued(id string, secret internal.Secret) bool {
	if len(m.config.TagKey) == 0 {
		return true
	}
	return hmac.Equal(secret[tagOffset:], m.tag(id, secret))
}

func (m *Manager) tag(id string, secret internal.Secret) []byte {
	mac := hmac.New(sha256.New, m.config.TagKey)
	mac.Write([]byte(id))
	mac.Write(secret[:tagOffset])
	return mac.Sum(nil)[:len(secret)-tagOffset]
}
