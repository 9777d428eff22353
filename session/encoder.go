package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// CurrentSchemaVersion is the leading byte of every encoded session.
//
// Layout: version | len(userID) userID | refreshHash[32] | createdAt | rotatedAt |
// expiresAt | len(network) network | len(userAgent) userAgent. Integers are big-endian
// int64. The refresh hash sits directly after the user id so the rotation script can
// splice it without decoding the rest.
const CurrentSchemaVersion = 1

var errUnsupportedVersion = errors.New("unsupported session schema version")

func writeShortString(buf *bytes.Buffer, field, v string) error {
	if len(v) > 255 {
		return errors.New(field + " too long")
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Encode serialises s. The session id is the storage key and is not encoded.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(2 + len(s.UserID) + 32 + 24 + 2 + len(s.Fingerprint.Network) + len(s.Fingerprint.UserAgent))

	buf.WriteByte(CurrentSchemaVersion)
	if err := writeShortString(&buf, "userID", s.UserID); err != nil {
		return nil, err
	}
	buf.Write(s.RefreshHash[:])

	var ts [24]byte
	binary.BigEndian.PutUint64(ts[0:8], uint64(s.CreatedAt))
	binary.BigEndian.PutUint64(ts[8:16], uint64(s.RotatedAt))
	binary.BigEndian.PutUint64(ts[16:24], uint64(s.ExpiresAt))
	buf.Write(ts[:])

	if err := writeShortString(&buf, "network", s.Fingerprint.Network); err != nil {
		return nil, err
	}
	if err := writeShortString(&buf, "userAgent", s.Fingerprint.UserAgent); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion {
		return nil, errUnsupportedVersion
	}

	s := &Session{}
	if s.UserID, err = readShortString(r); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, s.RefreshHash[:]); err != nil {
		return nil, err
	}
	for _, dst := range []*int64{&s.CreatedAt, &s.RotatedAt, &s.ExpiresAt} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	if s.Fingerprint.Network, err = readShortString(r); err != nil {
		return nil, err
	}
	if s.Fingerprint.UserAgent, err = readShortString(r); err != nil {
		return nil, err
	}
	return s, nil
}
