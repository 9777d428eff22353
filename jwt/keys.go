package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Algorithm is the only signing algorithm the registry accepts.
const Algorithm = "ES256"

// Slot is a key's role in the keyset.
type Slot uint8

const (
	SlotCurrent Slot = iota + 1
	SlotNext
	SlotPrevious
)

func (s Slot) String() string {
	switch s {
	case SlotCurrent:
		return "current"
	case SlotNext:
		return "next"
	case SlotPrevious:
		return "previous"
	default:
		return "unknown"
	}
}

// SigningKey is one P-256 key pair addressed by kid.
type SigningKey struct {
	KID     string
	Private *ecdsa.PrivateKey
}

// Public returns the verification half.
func (k *SigningKey) Public() *ecdsa.PublicKey {
	if k == nil || k.Private == nil {
		return nil
	}
	return &k.Private.PublicKey
}

// GenerateKey creates a fresh P-256 key with a random kid.
func GenerateKey() (*SigningKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate p-256 key: %w", err)
	}
	return &SigningKey{KID: uuid.NewString(), Private: priv}, nil
}

// ParseKeyPEM loads an EC private key (SEC1 or PKCS#8 PEM). The curve must be P-256.
func ParseKeyPEM(kid string, data []byte) (*SigningKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, errors.New("signing key requires a kid")
	}
	priv, err := jwt.ParseECPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse signing key %q: %w", kid, err)
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key %q is not on P-256", kid)
	}
	return &SigningKey{KID: kid, Private: priv}, nil
}

// EncodePEM returns the SEC1 PEM encoding of the private key.
func (k *SigningKey) EncodePEM() ([]byte, error) {
	if k == nil || k.Private == nil {
		return nil, errors.New("nil signing key")
	}
	der, err := x509.MarshalECPrivateKey(k.Private)
	if err != nil {
		return nil, fmt.Errorf("marshal signing key %q: %w", k.KID, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
