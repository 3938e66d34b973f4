package authcore

import "errors"

// Public failure taxonomy. Every engine operation fails with one of these
// sentinels (possibly wrapped); internal store errors never escape. The
// wording is deliberately uniform where disclosure would help an attacker:
// unknown accounts and wrong passwords share ErrInvalidCredentials, and a
// reused refresh token reports the same ErrTokenInvalid as an unknown one.
var (
	// ErrValidation covers malformed input before any state is touched.
	ErrValidation = errors.New("invalid request")
	// ErrInvalidCredentials covers both unknown identifiers and wrong
	// passwords. No account-enumeration signal.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrAccountInactive is returned for deactivated accounts.
	ErrAccountInactive = errors.New("account deactivated")
	// ErrVerificationPending is returned when principal-kind gating
	// (email verification / administrative approval) is unmet.
	ErrVerificationPending = errors.New("account pending verification or approval")
	// ErrCaptchaFailed is returned when the privileged login path requires
	// a captcha and verification did not pass.
	ErrCaptchaFailed = errors.New("captcha verification failed")
	// ErrTwoFactorRequired signals that a challenge was issued instead of
	// tokens. Callers using Login's result struct never see it.
	ErrTwoFactorRequired = errors.New("two-factor authentication required")
	// ErrTwoFactorInvalid covers every challenge failure: bad token, bad
	// code, expired challenge, spent attempt budget.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
	// ErrTwoFactorNotProvisioned is returned by confirm/disable when no
	// suitable secret exists.
	ErrTwoFactorNotProvisioned = errors.New("two-factor not provisioned")
	// ErrTokenInvalid is the uniform refresh failure for unknown and
	// reused tokens. Reuse additionally cascades internally.
	ErrTokenInvalid = errors.New("invalid refresh token")
	// ErrTokenExpired is returned for ordinary refresh-token expiry.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrRateLimited is returned on throttle breaches. It carries neither
	// the threshold nor the retry horizon.
	ErrRateLimited = errors.New("rate limited")
	// ErrCredentialNotFound is the sentinel CredentialStore implementations
	// return for missing records. The engine maps it before it surfaces.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrBackendUnavailable wraps storage failures.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady is returned when required collaborators are missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)
