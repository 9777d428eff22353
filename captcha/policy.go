package captcha

// IPRisk orders the risk signals known for the client network.
type IPRisk uint8

const (
	IPRiskNone IPRisk = iota
	// IPRiskElevated follows soft signals such as a session binding mismatch.
	IPRiskElevated
	// IPRiskFlagged is set pre-emptively by an operator or abuse feed.
	IPRiskFlagged
)

// AccountState is the account-side input to the decision.
type AccountState struct {
	// Locks is the number of locks inside the escalation window.
	Locks int64
	// Forced is set after a second-factor challenge lock.
	Forced bool
}

// Signals is everything RequiresChallenge looks at.
type Signals struct {
	Account AccountState
	IP      IPRisk
	// RecentFailures is the larger of the account and IP failure streaks.
	RecentFailures int64
}

// Policy holds the thresholds of the decision.
type Policy struct {
	// FailureThreshold is how many recent failures start requiring a challenge.
	FailureThreshold int64
	// ElevatedIPRequires makes IPRiskElevated require a challenge.
	ElevatedIPRequires bool
}

// DefaultPolicy requires a challenge after the first failure and for elevated IPs.
func DefaultPolicy() Policy {
	return Policy{FailureThreshold: 1, ElevatedIPRequires: true}
}

// RequiresChallenge is side-effect free. It escalates to required on a forced flag,
// a flagged IP, any lock history, or a failure streak at the threshold.
func (p Policy) RequiresChallenge(s Signals) bool {
	threshold := p.FailureThreshold
	if threshold <= 0 {
		threshold = 1
	}
	switch {
	case s.Account.Forced:
		return true
	case s.IP == IPRiskFlagged:
		return true
	case s.IP == IPRiskElevated && p.ElevatedIPRequires:
		return true
	case s.Account.Locks > 0:
		return true
	case s.RecentFailures >= threshold:
		return true
	}
	return false
}

// RequiresChallenge applies DefaultPolicy.
func RequiresChallenge(account AccountState, ip IPRisk, recentFailures int64) bool {
	return DefaultPolicy().RequiresChallenge(Signals{Account: account, IP: ip, RecentFailures: recentFailures})
}
