// Package config persists the host's identity, credential, signaling, and
// ICE settings to a single JSON document, and serializes every read-modify-
// write against it through one mutex. The document is one fixed JSON
// schema with no environment overlay, so a plain load/validate/save
// round-trip is the whole machinery.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TURNConfig holds a single TURN relay's connection details. Empty URL
// means TURN is not configured; STUN-only deployments are valid.
type TURNConfig struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Credential string `json:"credential"`
}

// LoggingConfig controls local log file rotation (see internal/logging).
type LoggingConfig struct {
	MaxBytes int64 `json:"max_bytes"`
	Files    int   `json:"files"`
}

// LockoutState is the Lockout Engine's persisted counters.
type LockoutState struct {
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until"`
}

// Config is the on-disk document at <CommonAppData>/P2PRD/config.json.
type Config struct {
	HostID               string        `json:"host_id"`
	PasswordHash         string        `json:"password_hash"`
	SignalingResolverURL string        `json:"signaling_resolver_url"`
	STUN                 []string      `json:"stun"`
	TURN                 TURNConfig    `json:"turn"`
	Logging              LoggingConfig `json:"logging"`
	Lockout              LockoutState  `json:"lockout"`
}

func defaultConfig() *Config {
	return &Config{
		HostID: uuid.NewString(),
		STUN:   []string{"stun:stun.l.google.com:19302"},
		Logging: LoggingConfig{
			MaxBytes: 10 * 1024 * 1024,
			Files:    5,
		},
	}
}

// Store owns the single in-memory Config and serializes every access.
// It is instance-scoped rather than package-level so tests can use
// isolated paths.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  *Config
}

// Open loads the config at path, creating a fresh one (with a freshly
// generated host_id) if the file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	cfg, err := load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load: %w", err)
		}
		cfg = defaultConfig()
		if err := persist(path, cfg); err != nil {
			return nil, fmt.Errorf("config: initial save: %w", err)
		}
	}
	s.cfg = cfg
	return s, nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.HostID == "" {
		cfg.HostID = uuid.NewString()
	}
	return cfg, nil
}

// persist writes cfg as pretty JSON, restricting the file to owner-only
// access. A full SYSTEM+Administrators ACL would need a Windows security
// descriptor write (SetNamedSecurityInfo); os.Chmod(0600) is the portable
// equivalent, and the directory carries the same restriction.
func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return os.Chmod(path, 0600)
}

// DefaultPath returns the platform config file location.
func DefaultPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "P2PRD", "config.json")
	case "darwin":
		return "/Library/Application Support/P2PRD/config.json"
	default:
		return "/etc/p2prd/config.json"
	}
}

// Snapshot returns a copy of the current config for read-only use (e.g.
// building the IPC status response).
func (s *Store) Snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg
}

// HostID returns the host's stable identity.
func (s *Store) HostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.HostID
}

// SetResolverURL persists a new signaling resolver URL. Rejects empty.
func (s *Store) SetResolverURL(url string) error {
	if url == "" {
		return ErrEmptyResolver
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SignalingResolverURL = url
	return persist(s.path, s.cfg)
}

// SetICE persists STUN/TURN settings. At least one STUN entry or a TURN URL
// is required.
func (s *Store) SetICE(stun []string, turnURL, turnUsername, turnCredential string) error {
	if len(stun) == 0 && turnURL == "" {
		return ErrEmptyICE
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.STUN = stun
	s.cfg.TURN = TURNConfig{URL: turnURL, Username: turnUsername, Credential: turnCredential}
	return persist(s.path, s.cfg)
}

var (
	ErrEmptyResolver = fmt.Errorf("resolver url must not be empty")
	ErrEmptyICE      = fmt.Errorf("at least one stun server or a turn url is required")
	ErrEmptyPassword = fmt.Errorf("password must not be empty")
)
