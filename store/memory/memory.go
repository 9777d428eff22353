// Package memory is an in-process store.Store for single-node deployments and tests.
package memory

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/store"
)

// Store keeps every record in maps guarded by one mutex.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	users   map[string]store.User
	byEmail map[string]string
	tokens  map[string]store.OneTimeToken
	codes   map[string][][32]byte
}

var _ store.Store = (*Store)(nil)

// New returns an empty store. A nil now defaults to time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:     now,
		users:   make(map[string]store.User),
		byEmail: make(map[string]string),
		tokens:  make(map[string]store.OneTimeToken),
		codes:   make(map[string][][32]byte),
	}
}

func cloneUser(u store.User) *store.User {
	if u.MFASecret != nil {
		u.MFASecret = append([]byte(nil), u.MFASecret...)
	}
	return &u
}

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[u.Email]; ok {
		return store.ErrDuplicateEmail
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *cloneUser(*u)
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *Store) UserByID(_ context.Context, id string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	delete(s.byEmail, u.Email)
	delete(s.codes, id)
	for tid, t := range s.tokens {
		if t.UserID == id {
			delete(s.tokens, tid)
		}
	}
	return nil
}

func (s *Store) update(id string, fn func(*store.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = s.now()
	s.users[id] = u
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(u *store.User) { u.PasswordHash = hash })
}

func (s *Store) SetStatus(_ context.Context, id string, status store.Status) error {
	return s.update(id, func(u *store.User) { u.Status = status })
}

func (s *Store) EnableMFA(_ context.Context, id string, sealedSecret []byte, codes [][32]byte) error {
	return s.update(id, func(u *store.User) {
		u.MFAEnabled = true
		u.MFASecret = append([]byte(nil), sealedSecret...)
		s.codes[id] = append([][32]byte(nil), codes...)
	})
}

func (s *Store) DisableMFA(_ context.Context, id string) error {
	return s.update(id, func(u *store.User) {
		u.MFAEnabled = false
		u.MFASecret = nil
		delete(s.codes, id)
	})
}

func (s *Store) IssueToken(_ context.Context, t *store.OneTimeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[t.UserID]; !ok {
		return store.ErrNotFound
	}
	for tid, old := range s.tokens {
		if old.UserID == t.UserID && old.Purpose == t.Purpose && old.UsedAt.IsZero() {
			delete(s.tokens, tid)
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.tokens[t.ID] = *t
	return nil
}

func (s *Store) LatestToken(_ context.Context, userID string, purpose store.Purpose) (*store.OneTimeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *store.OneTimeToken
	for _, t := range s.tokens {
		if t.UserID != userID || t.Purpose != purpose || !t.UsedAt.IsZero() {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			t := t
			latest = &t
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) ConsumeToken(_ context.Context, id string, purpose store.Purpose, hash [32]byte, now time.Time) (*store.OneTimeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok || t.Purpose != purpose || !t.Live(now) || subtle.ConstantTimeCompare(t.Hash[:], hash[:]) != 1 {
		return nil, store.ErrTokenInvalid
	}
	t.UsedAt = now
	s.tokens[id] = t
	return &t, nil
}

func (s *Store) RecoveryCodeCount(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes[userID]), nil
}

func (s *Store) ReplaceRecoveryCodes(_ context.Context, userID string, codes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return store.ErrNotFound
	}
	s.codes[userID] = append([][32]byte(nil), codes...)
	return nil
}

func (s *Store) ConsumeRecoveryCode(_ context.Context, userID string, hash [32]byte, rotate store.RotateFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := s.codes[userID]
	idx := -1
	for i := range codes {
		if subtle.ConstantTimeCompare(codes[i][:], hash[:]) == 1 {
			idx = i
		}
	}
	if idx < 0 {
		return false, nil
	}

	remaining := len(codes) - 1
	fresh, err := rotate(remaining)
	if err != nil {
		return false, err
	}
	s.codes[userID] = append([][32]byte(nil), fresh...)
	return true, nil
}
