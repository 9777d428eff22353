package jwt

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and failed claim checks.
	ErrInvalidToken = errors.New("invalid access token")
	// ErrTokenExpired is returned when exp has passed (after leeway).
	ErrTokenExpired = errors.New("access token expired")
	// ErrKeyExpired is returned for PREVIOUS-key tokens presented after the grace window.
	ErrKeyExpired = errors.New("signing key expired")
	// ErrUnknownKey is returned when the kid names no key in the keyset.
	ErrUnknownKey = errors.New("signing key not in keyset")
)

// Config controls token lifetime and validation.
type Config struct {
	Issuer   string
	Audience string
	// AccessTTL is the access-token lifetime.
	AccessTTL time.Duration
	// Grace is how long PREVIOUS keeps verifying after a promotion.
	Grace time.Duration
	// Leeway tolerates clock skew on exp/iat.
	Leeway time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns a 5 minute access TTL and a 24h grace window.
func DefaultConfig() Config {
	return Config{
		Issuer:    "authcore",
		AccessTTL: 5 * time.Minute,
		Grace:     24 * time.Hour,
		Leeway:    5 * time.Second,
	}
}

// AccessClaims is the access-token payload. Subject carries the user id.
type AccessClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *AccessClaims) UserID() string { return c.Subject }

type keyset struct {
	current    *SigningKey
	next       *SigningKey
	previous   *SigningKey
	promotedAt time.Time
}

func (s *keyset) lookup(kid string) (*SigningKey, Slot) {
	switch {
	case s.current.KID == kid:
		return s.current, SlotCurrent
	case s.next.KID == kid:
		return s.next, SlotNext
	case s.previous != nil && s.previous.KID == kid:
		return s.previous, SlotPrevious
	}
	return nil, 0
}

// KeyInfo describes one slot for operators and health output.
type KeyInfo struct {
	KID  string
	Slot Slot
	// ExpiresAt is set only for PREVIOUS.
	ExpiresAt time.Time
}

// Registry signs with CURRENT and verifies against CURRENT, NEXT and PREVIOUS.
//
// Registry is safe for concurrent use.
type Registry struct {
	config   Config
	set      atomic.Pointer[keyset]
	generate func() (*SigningKey, error)
}

// NewRegistry builds a registry seeded with current and next. Either may be nil, in
// which case a fresh key is generated for that slot.
func NewRegistry(cfg Config, current, next *SigningKey) (*Registry, error) {
	def := DefaultConfig()
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = def.AccessTTL
	}
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Registry{config: cfg, generate: GenerateKey}
	var err error
	if current == nil {
		if current, err = r.generate(); err != nil {
			return nil, err
		}
	}
	if next == nil {
		if next, err = r.generate(); err != nil {
			return nil, err
		}
	}
	for _, k := range []*SigningKey{current, next} {
		if k.Private == nil || strings.TrimSpace(k.KID) == "" {
			return nil, errors.New("signing key requires kid and private key")
		}
	}
	if current.KID == next.KID {
		return nil, fmt.Errorf("current and next share kid %q", current.KID)
	}
	r.set.Store(&keyset{current: current, next: next})
	return r, nil
}

// AccessTTL reports the configured access-token lifetime.
func (r *Registry) AccessTTL() time.Duration { return r.config.AccessTTL }

// IssueAccess signs an access token for userID bound to sessionID.
func (r *Registry) IssueAccess(userID, sessionID string) (string, *AccessClaims, error) {
	now := r.config.Now()
	claims := &AccessClaims{
		SID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			Issuer:    r.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.config.AccessTTL)),
		},
	}
	if r.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{r.config.Audience}
	}
	token, err := r.Sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Sign signs claims with the CURRENT key and sets its kid header.
func (r *Registry) Sign(claims jwt.Claims) (string, error) {
	key := r.set.Load().current
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = key.KID
	signed, err := token.SignedString(key.Private)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an access token.
//
// The keyset is loaded once per call. Errors are ErrUnknownKey, ErrKeyExpired,
// ErrTokenExpired or ErrInvalidToken.
func (r *Registry) Verify(tokenStr string) (*AccessClaims, error) {
	set := r.set.Load()
	now := r.config.Now()

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{Algorithm}),
		jwt.WithTimeFunc(r.config.Now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if r.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(r.config.Leeway))
	}
	if r.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(r.config.Issuer))
	}
	if r.config.Audience != "" {
		options = append(options, jwt.WithAudience(r.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKey
		}
		key, slot := set.lookup(kid)
		if key == nil {
			return nil, ErrUnknownKey
		}
		if slot == SlotPrevious && now.Sub(set.promotedAt) > r.config.Grace {
			return nil, ErrKeyExpired
		}
		return key.Public(), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownKey):
			return nil, ErrUnknownKey
		case errors.Is(err, ErrKeyExpired):
			return nil, ErrKeyExpired
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.SID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Promote shifts the keyset: PREVIOUS is dropped, CURRENT becomes PREVIOUS, NEXT becomes
// CURRENT and a freshly generated key becomes NEXT.
func (r *Registry) Promote() error {
	fresh, err := r.generate()
	if err != nil {
		return err
	}
	return r.PromoteWith(fresh)
}

// PromoteWith is Promote with caller-supplied NEXT material.
func (r *Registry) PromoteWith(next *SigningKey) error {
	if next == nil || next.Private == nil || strings.TrimSpace(next.KID) == "" {
		return errors.New("signing key requires kid and private key")
	}
	for {
		old := r.set.Load()
		if _, slot := old.lookup(next.KID); slot == SlotCurrent || slot == SlotNext {
			return fmt.Errorf("kid %q already in keyset", next.KID)
		}
		promoted := &keyset{
			current:    old.next,
			next:       next,
			previous:   old.current,
			promotedAt: r.config.Now(),
		}
		if r.set.CompareAndSwap(old, promoted) {
			return nil
		}
	}
}

// Keys lists the populated slots.
func (r *Registry) Keys() []KeyInfo {
	set := r.set.Load()
	out := []KeyInfo{
		{KID: set.current.KID, Slot: SlotCurrent},
		{KID: set.next.KID, Slot: SlotNext},
	}
	if set.previous != nil {
		out = append(out, KeyInfo{KID: set.previous.KID, Slot: SlotPrevious, ExpiresAt: set.promotedAt.Add(r.config.Grace)})
	}
	return out
}

// Next returns the NEXT key so hosts can persist it ahead of promotion.
func (r *Registry) Next() *SigningKey { return r.set.Load().next }
