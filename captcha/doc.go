// Package captcha decides when a human-verification challenge is required and checks
// the receipts clients bring back from the provider.
//
// The decision (Policy.RequiresChallenge) is a pure function of account and IP
// signals. Receipt verification goes through a Verifier under a short timeout. When the
// provider cannot answer, ClassLowRisk operations proceed and every other class fails
// closed with ErrUnavailable.
package captcha
