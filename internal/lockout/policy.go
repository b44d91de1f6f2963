// Package lockout implements the brute-force lockout policy as a pure
// decision function. It holds no state and performs no I/O; callers supply
// the pre-increment failure counter and the current time.
package lockout

import "time"

// Default policy constants.
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 30 * time.Minute
)

// Policy parameterizes the lockout decision.
type Policy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// DefaultPolicy returns the standard 5-attempt / 30-minute policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		LockoutDuration:   DefaultLockoutDuration,
	}
}

// Decision is the outcome of recording one failed attempt.
type Decision struct {
	// FailedAttempts is the post-increment counter.
	FailedAttempts int
	// Locked reports whether this failure crossed the threshold.
	Locked bool
	// LockedUntil is set iff Locked.
	LockedUntil time.Time
	// AttemptsRemaining is how many failures remain before lockout.
	// Zero when Locked.
	AttemptsRemaining int
}

// Fail records a failed attempt against the pre-increment counter and
// decides whether the account locks.
func (p Policy) Fail(failedBefore int, now time.Time) Decision {
	if failedBefore < 0 {
		failedBefore = 0
	}
	failed := failedBefore + 1
	if failed >= p.MaxFailedAttempts {
		return Decision{
			FailedAttempts: failed,
			Locked:         true,
			LockedUntil:    now.Add(p.LockoutDuration),
		}
	}
	return Decision{
		FailedAttempts:    failed,
		AttemptsRemaining: p.MaxFailedAttempts - failed,
	}
}

// Locked reports whether a lockout window is active and, if so, how much of
// it remains. A nil or elapsed lockedUntil means not locked.
func Locked(lockedUntil *time.Time, now time.Time) (bool, time.Duration) {
	if lockedUntil == nil || !lockedUntil.After(now) {
		return false, 0
	}
	return true, lockedUntil.Sub(now)
}
