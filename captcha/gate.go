package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRequired is returned when a challenge is required and no receipt was supplied.
	ErrRequired = errors.New("captcha required")
	// ErrRejected is returned when the verifier refused the receipt.
	ErrRejected = errors.New("captcha rejected")
	// ErrUnavailable is returned when the verifier could not answer and the operation
	// fails closed.
	ErrUnavailable = errors.New("captcha verifier unavailable")
)

// OperationClass decides what a verifier outage does to an operation.
type OperationClass uint8

const (
	// ClassUnclassified fails closed.
	ClassUnclassified OperationClass = iota
	// ClassHighRisk covers credential, second-factor and recovery operations. Fails closed.
	ClassHighRisk
	// ClassLowRisk covers reads. Fails open.
	ClassLowRisk
)

func (c OperationClass) String() string {
	switch c {
	case ClassHighRisk:
		return "high_risk"
	case ClassLowRisk:
		return "low_risk"
	default:
		return "unclassified"
	}
}

// FailsOpen reports whether a verifier outage lets the operation through.
func (c OperationClass) FailsOpen() bool {
	return c == ClassLowRisk
}

// Outcome is what VerifyReceipt concluded.
type Outcome uint8

const (
	OutcomePassed Outcome = iota + 1
	OutcomeRejected
	OutcomeMissing
	OutcomeFailedOpen
	OutcomeFailedClosed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeMissing:
		return "missing"
	case OutcomeFailedOpen:
		return "failed_open"
	case OutcomeFailedClosed:
		return "failed_closed"
	default:
		return "unknown"
	}
}

// Gate verifies receipts under a bounded timeout and applies the outage policy of the
// operation class.
type Gate struct {
	verifier Verifier
	timeout  time.Duration
	policy   Policy
}

// NewGate builds a gate. A non-positive timeout defaults to 3 seconds.
func NewGate(verifier Verifier, timeout time.Duration, policy Policy) *Gate {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if policy.FailureThreshold <= 0 {
		policy.FailureThreshold = DefaultPolicy().FailureThreshold
	}
	return &Gate{verifier: verifier, timeout: timeout, policy: policy}
}

// Policy returns the decision policy used by Enforce.
func (g *Gate) Policy() Policy {
	return g.policy
}

// VerifyReceipt asks the verifier about receipt. The returned error is nil for
// OutcomePassed and OutcomeFailedOpen.
func (g *Gate) VerifyReceipt(ctx context.Context, class OperationClass, receipt, remoteIP string) (Outcome, error) {
	if receipt == "" {
		return OutcomeMissing, ErrRequired
	}
	if g == nil || g.verifier == nil {
		return g.outage(class, errors.New("no verifier configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ok, err := g.verifier.Verify(ctx, receipt, remoteIP)
	if err != nil {
		return g.outage(class, err)
	}
	if !ok {
		return OutcomeRejected, ErrRejected
	}
	return OutcomePassed, nil
}

// Enforce runs the pure decision and, when a challenge is required, verifies receipt.
// A receipt supplied when none was required is ignored.
func (g *Gate) Enforce(ctx context.Context, class OperationClass, signals Signals, receipt, remoteIP string) (Outcome, error) {
	if !g.policy.RequiresChallenge(signals) {
		return 0, nil
	}
	return g.VerifyReceipt(ctx, class, receipt, remoteIP)
}

func (g *Gate) outage(class OperationClass, cause error) (Outcome, error) {
	if class.FailsOpen() {
		return OutcomeFailedOpen, nil
	}
	return OutcomeFailedClosed, fmt.Errorf("%w: %v", ErrUnavailable, cause)
}
