// Package window provides the single source of truth for "is this timestamp
// still inside a window" arithmetic. Lockout expiry, two-factor challenge
// expiry, and rate-limit windows all go through it so the three subsystems
// cannot drift apart.
package window

import "time"

// Active reports whether a window that opened at start with the given
// duration still covers now. A zero start means no window was ever opened.
func Active(start time.Time, d time.Duration, now time.Time) bool {
	if start.IsZero() || d <= 0 {
		return false
	}
	return now.Before(start.Add(d))
}

// Expired is the complement of Active for non-zero starts. A zero start is
// neither active nor expired; callers treat it as "no window".
func Expired(start time.Time, d time.Duration, now time.Time) bool {
	return !start.IsZero() && !Active(start, d, now)
}

// Remaining returns the time left until the window closes, clamped at zero.
func Remaining(start time.Time, d time.Duration, now time.Time) time.Duration {
	if !Active(start, d, now) {
		return 0
	}
	return start.Add(d).Sub(now)
}

// Until reports whether deadline is still in the future. Used for fields that
// store an absolute expiry rather than a start+duration pair.
func Until(deadline time.Time, now time.Time) bool {
	return !deadline.IsZero() && now.Before(deadline)
}
