package session

import "github.com/MrEthical07/authcore/internal"

// Fingerprint is the client identity a session is bound to.
type Fingerprint struct {
	UserAgent string
	// Network is the client's /24 (or IPv6 /64) in CIDR form.
	Network string
}

// NewFingerprint normalises a raw user agent and client IP.
func NewFingerprint(userAgent, ip string) Fingerprint {
	return Fingerprint{
		UserAgent: internal.NormalizeUserAgent(userAgent),
		Network:   internal.NetworkPrefix(ip),
	}
}

// Drift describes how a presented fingerprint differs from the bound one.
type Drift uint8

const (
	DriftNetwork Drift = 1 << iota
	DriftUserAgent
)

// DriftNone means the fingerprints agree.
const DriftNone Drift = 0

// Both is true when network and user agent changed together.
func (d Drift) Both() bool { return d&DriftNetwork != 0 && d&DriftUserAgent != 0 }

func (d Drift) String() string {
	switch {
	case d == DriftNone:
		return "none"
	case d.Both():
		return "network+user_agent"
	case d&DriftNetwork != 0:
		return "network"
	default:
		return "user_agent"
	}
}

// Compare returns the drift of presented relative to the bound fingerprint f. Empty
// values on either side are not counted as drift.
func (f Fingerprint) Compare(presented Fingerprint) Drift {
	var d Drift
	if f.Network != "" && presented.Network != "" && f.Network != presented.Network {
		d |= DriftNetwork
	}
	if f.UserAgent != "" && presented.UserAgent != "" && f.UserAgent != presented.UserAgent {
		d |= DriftUserAgent
	}
	return d
}

// BindingPolicy decides what drift means for a rotation.
type BindingPolicy uint8

const (
	// BindingAdvisory reports drift and never rejects.
	BindingAdvisory BindingPolicy = iota
	// BindingStrict rejects rotation when network and user agent both changed.
	BindingStrict
)

func (p BindingPolicy) String() string {
	if p == BindingStrict {
		return "strict"
	}
	return "advisory"
}
