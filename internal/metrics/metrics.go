package metrics

import (
	"sync/atomic"
	"time"
)

// ID names one counter slot.
type ID uint16

const (
	LoginSuccess ID = iota
	LoginFailure
	LoginLocked
	LoginUnverified
	LoginTwoFactorRequired
	TwoFactorSuccess
	TwoFactorFailure
	TwoFactorLocked
	TwoFactorEnabled
	TwoFactorDisabled
	TwoFactorDisableFailed
	RecoveryCodeUsed
	RecoveryCodeFailed
	RecoveryCodesRegenerated
	RefreshSuccess
	RefreshFailure
	RefreshReuseDetected
	BindingDrift
	BindingRejected
	SessionCreated
	SessionRevoked
	Logout
	LogoutAll
	RegisterSuccess
	RegisterDuplicate
	RegisterResent
	EmailVerified
	EmailVerificationFailure
	PasswordResetRequest
	PasswordResetSuccess
	PasswordResetFailure
	PasswordChangeSuccess
	PasswordChangeFailure
	CaptchaRequired
	CaptchaRejected
	CaptchaFailedOpen
	CaptchaFailedClosed
	LockoutApplied
	KeyPromoted
	KeyExpiredRejected
	MailFailure
	AccountDisabled
	ValidateLatency
	idCount
)

const (
	bucketCount   = 8
	cacheLineSize = 64
)

type histogram struct {
	buckets [bucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config switches collection on.
type Config struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Metrics holds one padded counter per ID and a bucketed histogram for ValidateLatency.
// The write path is a single atomic add.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [idCount]paddedCounter
	histograms    [idCount]histogram
}

// Snapshot is a point-in-time copy of every counter and histogram.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the ValidateLatency histogram; other ids are ignored.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if m == nil || !m.enableLatency || id != ValidateLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{Counters: map[ID]uint64{}, Histograms: map[ID][]uint64{}}
	}

	s := Snapshot{
		Counters:   make(map[ID]uint64, int(idCount)),
		Histograms: make(map[ID][]uint64, 1),
	}
	for id := ID(0); id < idCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, bucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[ValidateLatency].buckets[i])
		}
		s.Histograms[ValidateLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
