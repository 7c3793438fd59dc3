package config

import "time"

// MaxAttempts is the number of consecutive authentication failures allowed
// before the Lockout Engine locks the host out.
const MaxAttempts = 5

// LockoutWindow is how long a lockout lasts once MaxAttempts is reached.
const LockoutWindow = 5 * time.Minute

// RegisterFailure records one failed authentication attempt, locking the
// host out once MaxAttempts is reached. Shares the Config mutex with every
// other Store method so the failure count and the lockout deadline are
// always persisted together.
func (s *Store) RegisterFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.Lockout.FailedAttempts++
	if s.cfg.Lockout.FailedAttempts >= MaxAttempts {
		until := time.Now().Add(LockoutWindow)
		s.cfg.Lockout.LockedUntil = &until
		s.cfg.Lockout.FailedAttempts = 0
	}
	_ = persist(s.path, s.cfg)
}

// RegisterSuccess clears the failure counter and any lockout after a
// successful authentication.
func (s *Store) RegisterSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Lockout = LockoutState{}
	_ = persist(s.path, s.cfg)
}

// IsLocked reports whether the host is currently locked out, along with how
// many milliseconds remain. It opportunistically clears an expired lockout
// (self-healing) rather than waiting for the next successful auth.
func (s *Store) IsLocked() (locked bool, retryAfterMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until := s.cfg.Lockout.LockedUntil
	if until == nil {
		return false, 0
	}
	remaining := time.Until(*until)
	if remaining <= 0 {
		s.cfg.Lockout = LockoutState{}
		_ = persist(s.path, s.cfg)
		return false, 0
	}
	return true, remaining.Milliseconds()
}
