package config

import (
	"fmt"
	"strings"
)

// ValidateICE checks that the given STUN/TURN settings satisfy "at least
// one STUN OR a TURN URL", and that any URL present uses a recognized
// scheme. Collapsed to a single pass/fail error since that is all the IPC
// surface reports.
func ValidateICE(stun []string, turnURL string) error {
	if len(stun) == 0 && turnURL == "" {
		return ErrEmptyICE
	}
	for _, s := range stun {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return fmt.Errorf("stun entry %q must start with stun: or stuns:", s)
		}
	}
	if turnURL != "" && !strings.HasPrefix(turnURL, "turn:") && !strings.HasPrefix(turnURL, "turns:") {
		return fmt.Errorf("turn url %q must start with turn: or turns:", turnURL)
	}
	return nil
}

// ValidateResolverURL checks the signaling resolver URL is non-empty and
// uses a scheme the Resolver Loop understands (plain HTTP(S) for the
// resolver document, or a direct ws(s):// endpoint).
func ValidateResolverURL(url string) error {
	if url == "" {
		return ErrEmptyResolver
	}
	switch {
	case strings.HasPrefix(url, "https://"),
		strings.HasPrefix(url, "http://"),
		strings.HasPrefix(url, "wss://"),
		strings.HasPrefix(url, "ws://"):
		return nil
	default:
		return fmt.Errorf("resolver url %q must be http(s):// or ws(s)://", url)
	}
}
