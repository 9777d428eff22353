package session

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-node deployments and tests.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[string]Session
	byUser   map[string]map[string]struct{}
}

// NewMemoryStore returns an empty store. A nil now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:      now,
		sessions: make(map[string]Session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) remove(id, userID string) {
	delete(s.sessions, id)
	if set := s.byUser[userID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byUser, userID)
		}
	}
}

// live returns the session when present and unexpired, dropping it otherwise.
func (s *MemoryStore) live(id string, now time.Time) (Session, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	if sess.Expired(now) {
		s.remove(id, sess.UserID)
		return Session{}, false
	}
	return sess, true
}

func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.Expired(s.now()) {
		return ErrExpired
	}
	s.sessions[sess.ID] = *sess
	set := s.byUser[sess.UserID]
	if set == nil {
		set = make(map[string]struct{})
		s.byUser[sess.UserID] = set
	}
	set[sess.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.live(id, s.now())
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *MemoryStore) Rotate(_ context.Context, id string, presented, next [32]byte, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Expired(now) {
		s.remove(id, sess.UserID)
		return nil, ErrExpired
	}
	if subtle.ConstantTimeCompare(sess.RefreshHash[:], presented[:]) != 1 {
		s.remove(id, sess.UserID)
		return &sess, ErrReuseDetected
	}

	sess.RefreshHash = next
	sess.RotatedAt = now.Unix()
	s.sessions[id] = sess
	return &sess, nil
}

func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		s.remove(id, sess.UserID)
	}
	return nil
}

func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.byUser[userID] {
		delete(s.sessions, id)
		n++
	}
	delete(s.byUser, userID)
	return n, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]*Session, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		if sess, ok := s.live(id, now); ok {
			out = append(out, &sess)
		}
	}
	return out, nil
}
