// Package lockout holds the account lockout rules applied to login attempts.
//
// Every function takes a State value and returns a new one; persisting the
// result is the caller's job.
package lockout

import "time"

const (
	DefaultThreshold = 5
	DefaultDuration  = 2 * time.Hour
)

// Policy configures when repeated failures lock an account and for how long.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// State is the lockout-relevant slice of a credential record.
type State struct {
	FailedLoginCount int
	LockUntil        *time.Time
	LastLoginAt      *time.Time
}

func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Duration: DefaultDuration}
}

// IsLocked reports whether lockUntil is set and still in the future.
func IsLocked(s State, now time.Time) bool {
	return s.LockUntil != nil && s.LockUntil.After(now)
}

// OnFailedAttempt records a failed password check.
//
// A locked state is returned unchanged so retries cannot extend the lock.
// Reaching the threshold starts a lock and resets the counter.
func (p Policy) OnFailedAttempt(s State, now time.Time) State {
	if IsLocked(s, now) {
		return s
	}

	next := s
	next.FailedLoginCount = s.FailedLoginCount + 1
	next.LockUntil = nil

	if p.Threshold > 0 && next.FailedLoginCount >= p.Threshold {
		until := now.Add(p.Duration)
		next.LockUntil = &until
		next.FailedLoginCount = 0
	}
	return next
}

// OnSuccessfulAttempt clears failures and any expired lock and stamps the login time.
func OnSuccessfulAttempt(s State, now time.Time) State {
	at := now
	return State{
		FailedLoginCount: 0,
		LockUntil:        nil,
		LastLoginAt:      &at,
	}
}

// Unlock clears an active lock and the failure counter without touching LastLoginAt.
func Unlock(s State) State {
	s.FailedLoginCount = 0
	s.LockUntil = nil
	return s
}
