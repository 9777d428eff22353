package metrics

// Def names an exported metric.
type Def struct {
	ID   ID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []Def{
	{LoginSuccess, "authcore_login_success_total", "Logins that issued tokens or a second-factor challenge."},
	{LoginFailure, "authcore_login_failure_total", "Logins rejected for bad credentials."},
	{LoginLocked, "authcore_login_locked_total", "Logins refused by an active lock."},
	{LoginUnverified, "authcore_login_unverified_total", "Logins with a correct password on an unverified account."},
	{LoginTwoFactorRequired, "authcore_login_two_factor_required_total", "Logins that stepped up to a second factor."},
	{TwoFactorSuccess, "authcore_two_factor_success_total", "Accepted one-time codes."},
	{TwoFactorFailure, "authcore_two_factor_failure_total", "Rejected one-time codes."},
	{TwoFactorLocked, "authcore_two_factor_locked_total", "Second-factor challenges locked by failed guesses."},
	{TwoFactorEnabled, "authcore_two_factor_enabled_total", "Completed two-factor enrollments."},
	{TwoFactorDisabled, "authcore_two_factor_disabled_total", "Two-factor disable operations."},
	{TwoFactorDisableFailed, "authcore_two_factor_disable_failed_total", "Refused two-factor disable attempts."},
	{RecoveryCodeUsed, "authcore_recovery_code_used_total", "Redeemed recovery codes."},
	{RecoveryCodeFailed, "authcore_recovery_code_failed_total", "Rejected recovery codes."},
	{RecoveryCodesRegenerated, "authcore_recovery_codes_regenerated_total", "Recovery code regenerations."},
	{RefreshSuccess, "authcore_refresh_success_total", "Successful refresh rotations."},
	{RefreshFailure, "authcore_refresh_failure_total", "Failed refresh rotations."},
	{RefreshReuseDetected, "authcore_refresh_reuse_detected_total", "Replayed refresh tokens that revoked a session family."},
	{BindingDrift, "authcore_binding_drift_total", "Refreshes from a different network or user agent."},
	{BindingRejected, "authcore_binding_rejected_total", "Refreshes refused by strict binding."},
	{SessionCreated, "authcore_session_created_total", "Created sessions."},
	{SessionRevoked, "authcore_session_revoked_total", "Revoked sessions."},
	{Logout, "authcore_logout_total", "Single-session logouts."},
	{LogoutAll, "authcore_logout_all_total", "Logout-all operations."},
	{RegisterSuccess, "authcore_register_success_total", "Created accounts."},
	{RegisterDuplicate, "authcore_register_duplicate_total", "Registrations refused for an active duplicate."},
	{RegisterResent, "authcore_register_resent_total", "Registrations answered by resending verification."},
	{EmailVerified, "authcore_email_verified_total", "Verified email addresses."},
	{EmailVerificationFailure, "authcore_email_verification_failure_total", "Rejected verification tokens."},
	{PasswordResetRequest, "authcore_password_reset_request_total", "Password reset requests."},
	{PasswordResetSuccess, "authcore_password_reset_success_total", "Completed password resets."},
	{PasswordResetFailure, "authcore_password_reset_failure_total", "Rejected reset tokens."},
	{PasswordChangeSuccess, "authcore_password_change_success_total", "Completed password changes."},
	{PasswordChangeFailure, "authcore_password_change_failure_total", "Refused password changes."},
	{CaptchaRequired, "authcore_captcha_required_total", "Requests refused for a missing captcha receipt."},
	{CaptchaRejected, "authcore_captcha_rejected_total", "Receipts refused by the provider."},
	{CaptchaFailedOpen, "authcore_captcha_failed_open_total", "Provider outages absorbed by low-risk operations."},
	{CaptchaFailedClosed, "authcore_captcha_failed_closed_total", "Provider outages that refused a request."},
	{LockoutApplied, "authcore_lockout_applied_total", "Account or IP locks applied."},
	{KeyPromoted, "authcore_key_promoted_total", "Signing key promotions."},
	{KeyExpiredRejected, "authcore_key_expired_rejected_total", "Tokens refused because their key left the grace window."},
	{MailFailure, "authcore_mail_failure_total", "Outbound mail that could not be delivered."},
	{AccountDisabled, "authcore_account_disabled_total", "Administrative account disables."},
}

// HistogramDefs lists exported histograms.
var HistogramDefs = []Def{
	{ValidateLatency, "authcore_validate_latency_seconds", "Access token validation latency."},
}

// HistogramBounds are the upper bounds in seconds of all but the last (+Inf) bucket.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for backends without labels.
var HistogramBoundSuffix = []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// NormalizeBuckets copies raw into a fixed array, zero-filling short input.
func NormalizeBuckets(raw []uint64) [bucketCount]uint64 {
	var out [bucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [bucketCount]uint64) [bucketCount]uint64 {
	var out [bucketCount]uint64
	var running uint64
	for i := range raw {
		running += raw[i]
		out[i] = running
	}
	return out
}
