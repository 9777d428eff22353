package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
)

const challengeRecordVersion1 = 1

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeBackend  = errors.New("challenge backend unavailable")
	ErrChallengeCorrupt  = errors.New("challenge record corrupt")
)

// ChallengeKind separates login challenges from enrollment challenges so an id issued
// for one flow cannot be redeemed in the other.
type ChallengeKind uint8

const (
	ChallengeLogin ChallengeKind = iota + 1
	ChallengeEnroll
)

func (k ChallengeKind) String() string {
	switch k {
	case ChallengeLogin:
		return "login"
	case ChallengeEnroll:
		return "enroll"
	default:
		return "unknown"
	}
}

// Challenge is a pending second-factor step.
type Challenge struct {
	Kind      ChallengeKind
	UserID    string
	ExpiresAt int64
	// Secret carries the sealed TOTP secret awaiting confirmation for enrollment
	// challenges. Login challenges leave it empty.
	Secret []byte
}

// ChallengeStore keeps challenges in the ephemeral counter store under their TTL.
type ChallengeStore struct {
	store  rate.Store
	prefix string
	now    func() time.Time
}

// NewChallengeStore builds a store on backend. Empty prefix defaults to "amc" and a nil
// now defaults to time.Now.
func NewChallengeStore(backend rate.Store, prefix string, now func() time.Time) *ChallengeStore {
	if prefix == "" {
		prefix = "amc"
	}
	if now == nil {
		now = time.Now
	}
	return &ChallengeStore{store: backend, prefix: prefix, now: now}
}

func (s *ChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

// Save stores record under challengeID for ttl, replacing any previous record.
func (s *ChallengeStore) Save(ctx context.Context, challengeID string, record *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.key(challengeID), string(encoded), ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get returns the live record without consuming it.
func (s *ChallengeStore) Get(ctx context.Context, challengeID string) (*Challenge, error) {
	data, ok, err := s.store.Get(ctx, s.key(challengeID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if !ok {
		return nil, ErrChallengeNotFound
	}
	record, err := decodeChallenge([]byte(data))
	if err != nil {
		return nil, err
	}
	if s.now().Unix() >= record.ExpiresAt {
		_ = s.store.Del(ctx, s.key(challengeID))
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Consume atomically removes and returns the record. Of two concurrent callers only one
// receives it; the other sees ErrChallengeNotFound.
func (s *ChallengeStore) Consume(ctx context.Context, challengeID string) (*Challenge, error) {
	data, ok, err := s.store.Take(ctx, s.key(challengeID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if !ok {
		return nil, ErrChallengeNotFound
	}
	record, err := decodeChallenge([]byte(data))
	if err != nil {
		return nil, err
	}
	if s.now().Unix() >= record.ExpiresAt {
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Delete drops the record and reports whether it existed.
func (s *ChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	_, ok, err := s.store.Take(ctx, s.key(challengeID))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return ok, nil
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	if record == nil {
		return nil, ErrChallengeCorrupt
	}
	if len(record.UserID) > 65535 || len(record.Secret) > 65535 {
		return nil, errors.New("challenge field length exceeded")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 1 + 8 + 2 + len(record.UserID) + 2 + len(record.Secret))
	buf.WriteByte(challengeRecordVersion1)
	buf.WriteByte(byte(record.Kind))

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(record.ExpiresAt))
	buf.Write(scratch[:])

	binary.BigEndian.PutUint16(scratch[:2], uint16(len(record.UserID)))
	buf.Write(scratch[:2])
	buf.WriteString(record.UserID)

	binary.BigEndian.PutUint16(scratch[:2], uint16(len(record.Secret)))
	buf.Write(scratch[:2])
	buf.Write(record.Secret)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != challengeRecordVersion1 {
		return nil, ErrChallengeCorrupt
	}
	kind, err := reader.ReadByte()
	if err != nil {
		return nil, ErrChallengeCorrupt
	}

	record := &Challenge{Kind: ChallengeKind(kind)}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, ErrChallengeCorrupt
	}

	user, err := readField(reader)
	if err != nil {
		return nil, ErrChallengeCorrupt
	}
	record.UserID = string(user)

	secret, err := readField(reader)
	if err != nil {
		return nil, ErrChallengeCorrupt
	}
	if len(secret) > 0 {
		record.Secret = secret
	}
	if reader.Len() != 0 {
		return nil, ErrChallengeCorrupt
	}
	return record, nil
}

func readField(reader *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
