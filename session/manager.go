package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/jwt"
)

var (
	// ErrInvalidToken is returned for refresh tokens that do not decode or do not match.
	ErrInvalidToken = errors.New("invalid refresh token")
	// ErrBindingMismatch is returned under BindingStrict when both network and user
	// agent drifted. The session is revoked.
	ErrBindingMismatch = errors.New("session binding mismatch")
)

// AccessIssuer signs access tokens. *jwt.Registry satisfies it.
type AccessIssuer interface {
	IssueAccess(userID, sessionID string) (string, *jwt.AccessClaims, error)
}

// Config controls session lifetime and binding.
type Config struct {
	// TTL is the absolute session lifetime. Rotation does not extend it.
	TTL     time.Duration
	Binding BindingPolicy
	Now     func() time.Time
	// TagKey authenticates refresh secrets (see DeriveTagKey). With a key, a secret
	// this deployment never issued is rejected as invalid and does not count as reuse.
	// Without one, any hash mismatch on a live session is reuse.
	TagKey []byte
}

// DefaultConfig returns a 30 day lifetime with advisory binding.
func DefaultConfig() Config {
	return Config{TTL: 30 * 24 * time.Hour, Binding: BindingAdvisory}
}

// Pair is an access/refresh token pair handed to the client.
type Pair struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Rotation is the outcome of Manager.Rotate.
type Rotation struct {
	Pair
	UserID string
	// Drift is the fingerprint change observed on this rotation.
	Drift Drift
	// Revoked counts sessions revoked by reuse detection.
	Revoked int
}

// Manager issues, rotates and revokes sessions.
type Manager struct {
	store  Store
	keys   AccessIssuer
	config Config
}

// NewManager builds a manager. Zero fields in cfg fall back to DefaultConfig.
func NewManager(store Store, keys AccessIssuer, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.TagKey = append([]byte(nil), cfg.TagKey...)
	return &Manager{store: store, keys: keys, config: cfg}
}

// Store exposes the backing store.
func (m *Manager) Store() Store { return m.store }

// Issue creates a new session for userID bound to fp and returns its first token pair.
func (m *Manager) Issue(ctx context.Context, userID string, fp Fingerprint) (Pair, error) {
	tid, err := internal.NewTokenID()
	if err != nil {
		return Pair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	id := tid.String()
	secret, err := m.newSecret(id)
	if err != nil {
		return Pair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	refresh, err := internal.EncodeToken(id, secret)
	if err != nil {
		return Pair{}, fmt.Errorf("encode refresh token: %w", err)
	}
	hash := internal.HashSecret(secret)

	now := m.config.Now()
	sess := &Session{
		ID:          id,
		UserID:      userID,
		RefreshHash: hash,
		Fingerprint: fp,
		CreatedAt:   now.Unix(),
		RotatedAt:   now.Unix(),
		ExpiresAt:   now.Add(m.config.TTL).Unix(),
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return Pair{}, err
	}

	access, claims, err := m.keys.IssueAccess(userID, id)
	if err != nil {
		_ = m.store.Revoke(ctx, id)
		return Pair{}, err
	}
	return Pair{
		SessionID:        id,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// Rotate exchanges refreshToken for a new pair.
//
// A stale token revokes every session of the owning user and returns ErrReuseDetected
// with Rotation.UserID set. A secret that fails the tag check is ErrInvalidToken and
// never reaches the store. Under BindingStrict a rotation whose network and user agent
// both drifted revokes the session and returns ErrBindingMismatch.
func (m *Manager) Rotate(ctx context.Context, refreshToken string, fp Fingerprint) (Rotation, error) {
	id, secret, err := internal.DecodeToken(refreshToken)
	if err != nil || !m.issued(id, secret) {
		return Rotation{}, ErrInvalidToken
	}
	nextSecret, err := m.newSecret(id)
	if err != nil {
		return Rotation{}, fmt.Errorf("generate refresh token: %w", err)
	}

	now := m.config.Now()
	sess, err := m.store.Rotate(ctx, id, internal.HashSecret(secret), internal.HashSecret(nextSecret), now)
	if errors.Is(err, ErrReuseDetected) {
		if sess == nil {
			return Rotation{}, ErrReuseDetected
		}
		out := Rotation{UserID: sess.UserID, Revoked: 1}
		n, revokeErr := m.store.RevokeAllForUser(ctx, sess.UserID)
		out.Revoked += n
		if revokeErr != nil {
			return out, errors.Join(ErrReuseDetected, revokeErr)
		}
		return out, ErrReuseDetected
	}
	if err != nil {
		return Rotation{}, err
	}

	out := Rotation{UserID: sess.UserID, Drift: sess.Fingerprint.Compare(fp)}
	if m.config.Binding == BindingStrict && out.Drift.Both() {
		if err := m.store.Revoke(ctx, id); err != nil {
			return out, err
		}
		return out, ErrBindingMismatch
	}

	refresh, err := internal.EncodeToken(id, nextSecret)
	if err != nil {
		return out, fmt.Errorf("encode refresh token: %w", err)
	}
	access, claims, err := m.keys.IssueAccess(sess.UserID, id)
	if err != nil {
		return out, err
	}
	out.Pair = Pair{
		SessionID:        id,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}
	return out, nil
}

// RevokeToken revokes the session behind refreshToken and returns its user id. An
// already-revoked session is a no-op with an empty user id.
func (m *Manager) RevokeToken(ctx context.Context, refreshToken string) (string, error) {
	id, secret, err := internal.DecodeToken(refreshToken)
	if err != nil || !m.issued(id, secret) {
		return "", ErrInvalidToken
	}
	sess, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	hash := internal.HashSecret(secret)
	if subtle.ConstantTimeCompare(sess.RefreshHash[:], hash[:]) != 1 {
		return "", ErrInvalidToken
	}
	if err := m.store.Revoke(ctx, id); err != nil {
		return "", err
	}
	return sess.UserID, nil
}

// Revoke deletes one session.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	return m.store.Revoke(ctx, sessionID)
}

// RevokeAll deletes every session for userID.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int, error) {
	return m.store.RevokeAllForUser(ctx, userID)
}

// List returns the user's live sessions.
func (m *Manager) List(ctx context.Context, userID string) ([]*Session, error) {
	return m.store.ListForUser(ctx, userID)
}

// Active returns ErrNotFound unless sessionID is live and owned by userID.
func (m *Manager) Active(ctx context.Context, userID, sessionID string) error {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID || sess.Expired(m.config.Now()) {
		return ErrNotFound
	}
	return nil
}
