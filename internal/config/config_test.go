package config

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/argon2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenGeneratesHostIDOnFirstRun(t *testing.T) {
	s := newTestStore(t)
	if s.HostID() == "" {
		t.Fatal("expected a generated host_id")
	}
}

func TestOpenReloadsPersistedHostID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := s1.HostID()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if s2.HostID() != id {
		t.Fatalf("host_id changed across reopen: %q != %q", s2.HostID(), id)
	}
}

func TestSetPasswordAndVerify(t *testing.T) {
	s := newTestStore(t)
	if s.HasPassword() {
		t.Fatal("fresh store should have no password")
	}
	if err := s.SetPassword("correct horse battery staple"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if !s.HasPassword() {
		t.Fatal("expected HasPassword true after SetPassword")
	}
	if !s.VerifyPassword("correct horse battery staple") {
		t.Fatal("expected VerifyPassword to accept the set password")
	}
	if s.VerifyPassword("wrong") {
		t.Fatal("expected VerifyPassword to reject a wrong password")
	}
}

// An externally provisioned argon2id credential must verify through the
// same VerifyPassword entry point, dispatched on the hash's own prefix.
func TestVerifyPasswordArgon2idHash(t *testing.T) {
	s := newTestStore(t)

	salt := []byte("0123456789abcdef")
	const memory, passes, lanes = 64 * 1024, 3, 2
	key := argon2.IDKey([]byte("provisioned secret"), salt, passes, memory, lanes, 32)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, passes, lanes,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))

	s.mu.Lock()
	s.cfg.PasswordHash = encoded
	s.mu.Unlock()

	if !s.VerifyPassword("provisioned secret") {
		t.Fatal("expected VerifyPassword to accept the argon2id credential")
	}
	if s.VerifyPassword("wrong") {
		t.Fatal("expected VerifyPassword to reject a wrong password against an argon2id hash")
	}
}

func TestVerifyPasswordRejectsMalformedArgon2idHash(t *testing.T) {
	s := newTestStore(t)
	for _, hash := range []string{
		"$argon2id$",
		"$argon2id$v=19$m=65536,t=3,p=2$notbase64!$also!",
		"$argon2id$v=18$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=0,t=0,p=0$c2FsdA$aGFzaA",
	} {
		s.mu.Lock()
		s.cfg.PasswordHash = hash
		s.mu.Unlock()
		if s.VerifyPassword("anything") {
			t.Fatalf("malformed hash %q must not verify", hash)
		}
	}
}

func TestVerifyPasswordBeforeAnySet(t *testing.T) {
	s := newTestStore(t)
	if s.VerifyPassword("anything") {
		t.Fatal("VerifyPassword must reject when no password has been set")
	}
}

func TestLockoutLocksAfterMaxAttempts(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < MaxAttempts-1; i++ {
		s.RegisterFailure()
		if locked, _ := s.IsLocked(); locked {
			t.Fatalf("should not lock before %d failures, locked at %d", MaxAttempts, i+1)
		}
	}
	s.RegisterFailure()
	locked, retryAfter := s.IsLocked()
	if !locked {
		t.Fatal("expected lockout after MaxAttempts failures")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry_after_ms, got %d", retryAfter)
	}
}

func TestLockoutResetsFailedAttemptsOnTrigger(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < MaxAttempts; i++ {
		s.RegisterFailure()
	}
	s.mu.Lock()
	attempts := s.cfg.Lockout.FailedAttempts
	s.mu.Unlock()
	if attempts != 0 {
		t.Fatalf("expected failed_attempts reset to 0 once lockout triggers, got %d", attempts)
	}
}

func TestLockoutClearedBySuccess(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < MaxAttempts; i++ {
		s.RegisterFailure()
	}
	if locked, _ := s.IsLocked(); !locked {
		t.Fatal("expected lockout before success")
	}
	s.RegisterSuccess()
	if locked, _ := s.IsLocked(); locked {
		t.Fatal("expected lockout cleared by RegisterSuccess")
	}
}

func TestLockoutSelfHeals(t *testing.T) {
	s := newTestStore(t)
	past := time.Now().Add(-time.Second)
	s.mu.Lock()
	s.cfg.Lockout = LockoutState{FailedAttempts: MaxAttempts, LockedUntil: &past}
	s.mu.Unlock()

	locked, _ := s.IsLocked()
	if locked {
		t.Fatal("expected an expired lockout to self-heal as unlocked")
	}
	s.mu.Lock()
	cleared := s.cfg.Lockout.LockedUntil == nil
	s.mu.Unlock()
	if !cleared {
		t.Fatal("expected IsLocked to clear the expired deadline")
	}
}

func TestSetResolverURLRejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetResolverURL(""); err != ErrEmptyResolver {
		t.Fatalf("expected ErrEmptyResolver, got %v", err)
	}
	if err := s.SetResolverURL("wss://signaling.example/ws"); err != nil {
		t.Fatalf("SetResolverURL: %v", err)
	}
	if got := s.Snapshot().SignalingResolverURL; got != "wss://signaling.example/ws" {
		t.Fatalf("resolver url = %q", got)
	}
}

func TestSetICERequiresStunOrTurn(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetICE(nil, "", "", ""); err != ErrEmptyICE {
		t.Fatalf("expected ErrEmptyICE, got %v", err)
	}
	if err := s.SetICE([]string{"stun:stun.example.com:3478"}, "", "", ""); err != nil {
		t.Fatalf("SetICE: %v", err)
	}
}
