package leagueauth

import "time"

// LockoutPolicy is pure data plus transition helpers over the lockout
// fields of a User. It never touches storage: callers persist the
// mutated row, which keeps the read-modify-write visible at the call
// site where its race window is documented.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// RecordFailure registers one failed password attempt. Reaching the
// threshold sets LockedUntil and pins the counter at the threshold so
// repeated failures while locked cannot grow it without bound.
// It reports whether this failure tripped the lock.
func (p LockoutPolicy) RecordFailure(u *User, now time.Time) (locked bool) {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= p.Threshold {
		u.FailedLoginAttempts = p.Threshold
		until := now.Add(p.Duration)
		u.LockedUntil = &until
		return true
	}
	return false
}

// Locked reports whether the account is inside an active lockout
// window. An elapsed lock is cleared in place (counter and timestamp)
// and reported as unlocked; cleared tells the caller a mutation
// happened that should be persisted.
func (p LockoutPolicy) Locked(u *User, now time.Time) (locked, cleared bool) {
	if u.LockedUntil == nil {
		return false, false
	}
	if now.Before(*u.LockedUntil) {
		return true, false
	}
	p.ResetFailures(u)
	return false, true
}

// ResetFailures clears the counter and any lockout timestamp, for use
// after successful authentication or a completed password reset.
func (p LockoutPolicy) ResetFailures(u *User) {
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
}
