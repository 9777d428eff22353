package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// TokenID is the 16-byte public half of a refresh or one-time token.
type TokenID [16]byte

const (
	secretSize   = 32
	tokenRawSize = len(TokenID{}) + secretSize
)

// Secret is the 32-byte private half of a token. Only its SHA-256 is persisted.
type Secret [secretSize]byte

var errTokenSize = errors.New("invalid token size")

func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (id TokenID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func ParseTokenID(s string) (TokenID, error) {
	var id TokenID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid token id size")
	}

	copy(id[:], raw)
	return id, nil
}

func NewSecret() (Secret, error) {
	var secret Secret
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSecret(secret Secret) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeToken packs id and secret as base64url(id || secret).
func EncodeToken(id string, secret Secret) (string, error) {
	tid, err := ParseTokenID(id)
	if err != nil {
		return "", err
	}

	var raw [tokenRawSize]byte
	copy(raw[:len(tid)], tid[:])
	copy(raw[len(tid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeToken is the inverse of EncodeToken.
func DecodeToken(token string) (string, Secret, error) {
	var secret Secret

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != tokenRawSize {
		return "", secret, errTokenSize
	}

	var tid TokenID
	copy(tid[:], raw[:len(tid)])
	copy(secret[:], raw[len(tid):])

	return tid.String(), secret, nil
}

// NewToken returns a fresh id, the encoded token for the client and the secret hash
// to persist.
func NewToken() (id string, token string, hash [32]byte, err error) {
	tid, err := NewTokenID()
	if err != nil {
		return "", "", hash, err
	}
	secret, err := NewSecret()
	if err != nil {
		return "", "", hash, err
	}
	id = tid.String()
	token, err = EncodeToken(id, secret)
	if err != nil {
		return "", "", hash, err
	}
	return id, token, HashSecret(secret), nil
}
