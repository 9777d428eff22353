package authcore

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrInvalidInput is returned for malformed emails, empty fields and oversized input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPasswordPolicy is returned when a new password is outside the accepted range.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrCaptchaRequired is returned when a captcha receipt is required and missing.
	ErrCaptchaRequired = errors.New("captcha required")
	// ErrCaptchaRejected is returned when the verifier refused the receipt.
	ErrCaptchaRejected = errors.New("captcha rejected")
	// ErrInvalidCredentials covers unknown accounts and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while an account or IP lock is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnverified is returned after a correct password on an unverified account.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrAccountDisabled is returned after a correct password on a disabled account.
	// It is reported to callers exactly like ErrInvalidCredentials.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrDuplicateAccount is returned by Register for an active account.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrOTPInvalid covers wrong, replayed and expired-challenge second-factor codes.
	ErrOTPInvalid = errors.New("invalid one-time code")
	// ErrTwoFactorLocked is returned while a second-factor challenge is locked.
	ErrTwoFactorLocked = errors.New("two-factor challenge locked")
	// ErrRecoveryCodeInvalid is returned for unknown or used recovery codes.
	ErrRecoveryCodeInvalid = errors.New("invalid recovery code")
	// ErrDisableFailed hides which of the password and OTP checks failed.
	ErrDisableFailed = errors.New("two-factor disable failed")
	// ErrTwoFactorNotEnabled is returned by operations that need an enrolled factor.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrTwoFactorAlreadyEnabled is returned by EnableTwoFactorInit for enrolled users.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTokenInvalid is returned for unknown, expired or revoked refresh tokens.
	ErrTokenInvalid = errors.New("refresh token invalid")
	// ErrTokenReuse is returned when an already-rotated refresh token is presented.
	ErrTokenReuse = errors.New("refresh token reuse detected")
	// ErrSessionBindingMismatch is returned under strict binding when the client changed.
	ErrSessionBindingMismatch = errors.New("session binding mismatch")
	// ErrAccessTokenInvalid is returned for bad or expired access tokens.
	ErrAccessTokenInvalid = errors.New("access token invalid")
	// ErrKeyRotationMismatch is returned for tokens signed by a key outside the keyset.
	ErrKeyRotationMismatch = errors.New("signing key not recognised")
	// ErrKeyExpired is returned for tokens signed by PREVIOUS after its grace window.
	ErrKeyExpired = errors.New("signing key expired")
	// ErrVerificationTokenInvalid is returned for bad or expired email verification links.
	ErrVerificationTokenInvalid = errors.New("verification token invalid")
	// ErrResetTokenInvalid is returned for bad or expired password reset links.
	ErrResetTokenInvalid = errors.New("reset token invalid")
	// ErrRateLimited is returned when a throttled action is requested too often.
	ErrRateLimited = errors.New("rate limited")
	// ErrDependencyUnavailable wraps store, counter, captcha and mail outages.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrUserNotFound is returned by administrative operations on unknown user ids.
	ErrUserNotFound = errors.New("user not found")

	ErrEngineNotReady = errors.New("engine not initialized")
	ErrInvalidConfig  = errors.New("invalid config")
	ErrBuilderUsed    = errors.New("builder already used")
)

// Kind is the externally visible failure class.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindCaptchaRequired
	KindLockedOut
	KindTokenReuse
	KindKeyMismatch
	KindDependencyUnavailable
	KindConflict
	KindUnverified
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindCaptchaRequired:
		return "captcha_required"
	case KindLockedOut:
		return "locked_out"
	case KindTokenReuse:
		return "token_reuse"
	case KindKeyMismatch:
		return "key_mismatch"
	case KindDependencyUnavailable:
		return "dependency_unavailable"
	case KindConflict:
		return "conflict"
	case KindUnverified:
		return "unverified"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

type classification struct {
	err     error
	kind    Kind
	message string
}

// classifications is ordered; the first match wins.
var classifications = []classification{
	{ErrInvalidInput, KindValidation, "invalid request"},
	{ErrPasswordPolicy, KindValidation, "password does not meet requirements"},
	{ErrOTPInvalid, KindValidation, "invalid or expired code"},
	{ErrRecoveryCodeInvalid, KindValidation, "invalid or expired code"},
	{ErrTwoFactorNotEnabled, KindValidation, "two-factor authentication is not enabled"},
	{ErrVerificationTokenInvalid, KindValidation, "invalid or expired link"},
	{ErrResetTokenInvalid, KindValidation, "invalid or expired link"},
	{ErrCaptchaRequired, KindCaptchaRequired, "captcha required"},
	{ErrCaptchaRejected, KindCaptchaRequired, "captcha required"},
	{ErrInvalidCredentials, KindAuthentication, "invalid credentials"},
	{ErrAccountDisabled, KindAuthentication, "invalid credentials"},
	{ErrDisableFailed, KindAuthentication, "unable to disable two-factor authentication"},
	{ErrTokenInvalid, KindAuthentication, "session expired, sign in again"},
	{ErrSessionBindingMismatch, KindAuthentication, "session expired, sign in again"},
	{ErrAccessTokenInvalid, KindAuthentication, "unauthorized"},
	{ErrUserNotFound, KindAuthentication, "unauthorized"},
	{ErrAccountLocked, KindLockedOut, "too many attempts, try again later"},
	{ErrTwoFactorLocked, KindLockedOut, "too many attempts, try again later"},
	{ErrTokenReuse, KindTokenReuse, "session expired, sign in again"},
	{ErrKeyRotationMismatch, KindKeyMismatch, "session expired, sign in again"},
	{ErrKeyExpired, KindKeyMismatch, "session expired, sign in again"},
	{ErrDuplicateAccount, KindConflict, "an account with this email already exists"},
	{ErrTwoFactorAlreadyEnabled, KindConflict, "two-factor authentication is already enabled"},
	{ErrAccountUnverified, KindUnverified, "email address not verified"},
	{ErrRateLimited, KindRateLimited, "too many requests, try again later"},
	{ErrDependencyUnavailable, KindDependencyUnavailable, "service temporarily unavailable"},
}

func classify(err error) classification {
	for _, c := range classifications {
		if errors.Is(err, c.err) {
			return c
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return classification{kind: KindDependencyUnavailable, message: "service temporarily unavailable"}
	}
	return classification{kind: KindInternal, message: "internal error"}
}

// KindOf returns the failure class of err. A nil error is KindInternal; callers check
// err first.
func KindOf(err error) Kind {
	return classify(err).kind
}

// HTTPStatus maps err to the response status an HTTP transport should use.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindValidation, KindCaptchaRequired:
		return http.StatusBadRequest
	case KindAuthentication, KindTokenReuse, KindKeyMismatch:
		return http.StatusUnauthorized
	case KindUnverified:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindLockedOut:
		return http.StatusLocked
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the generic message safe to show an unauthenticated caller.
// It never distinguishes an unknown account from a wrong password.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	return classify(err).message
}
