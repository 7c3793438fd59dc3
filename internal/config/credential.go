package config

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// SetPassword hashes password with bcrypt, persists the new hash, and
// clears any lockout state — a new password invalidates whatever was being
// brute-forced against the old one.
func (s *Store) SetPassword(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.PasswordHash = string(hash)
	s.cfg.Lockout = LockoutState{}
	return persist(s.path, s.cfg)
}

// HasPassword reports whether a password has ever been set.
func (s *Store) HasPassword() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.PasswordHash != ""
}

// VerifyPassword checks password against the stored hash. The hash is
// self-describing: SetPassword writes bcrypt, but an externally provisioned
// $argon2id$ hash verifies too, dispatched on its prefix. Returns false,
// not an error, when no password has been set yet — callers should treat
// that as "reject every auth attempt" per the orchestrator's auth handler.
func (s *Store) VerifyPassword(password string) bool {
	s.mu.Lock()
	hash := s.cfg.PasswordHash
	s.mu.Unlock()
	if hash == "" {
		return false
	}
	if strings.HasPrefix(hash, "$argon2id$") {
		return verifyArgon2id(hash, password)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// verifyArgon2id checks password against a PHC-formatted
// $argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt-b64>$<key-b64> string.
// Any parse failure verifies as false rather than erroring — a corrupt
// hash and a wrong password are indistinguishable to the operator anyway.
func verifyArgon2id(encoded, password string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory, passes uint32
	var lanes uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &passes, &lanes); err != nil {
		return false
	}
	if memory == 0 || passes == 0 || lanes == 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, passes, memory, lanes, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
