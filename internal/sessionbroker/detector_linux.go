//go:build linux

package sessionbroker

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// linuxDetector is the Session-0 Watcher's Linux backend: it shells out to
// loginctl rather than linking against libsystemd directly, so the host
// binary has no cgo/libsystemd-dev build dependency for this one feature.
type linuxDetector struct{}

// NewSessionDetector creates a Linux session detector backed by
// systemd-logind's loginctl CLI.
func NewSessionDetector() SessionDetector {
	return &linuxDetector{}
}

// ListSessions shells out to loginctl twice per session: once to enumerate
// session IDs, once more per ID to pull the Type/Remote/Display/Seat/State
// properties loginctl doesn't include in the summary table.
func (d *linuxDetector) ListSessions() ([]DetectedSession, error) {
	out, err := exec.Command("loginctl", "list-sessions", "--no-legend", "--no-pager").Output()
	if err != nil {
		return nil, fmt.Errorf("loginctl list-sessions: %w", err)
	}

	var sessions []DetectedSession
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		sessionID := fields[0]
		uid, _ := strconv.ParseUint(fields[1], 10, 32)
		username := fields[2]

		// Get session details
		sess := DetectedSession{
			UID:      uint32(uid),
			Username: username,
			Session:  sessionID,
			State:    "active",
		}

		// Query session properties
		if propOut, err := exec.Command("loginctl", "show-session", sessionID,
			"--property=Type,Remote,Display,Seat,State").Output(); err == nil {
			for _, propLine := range strings.Split(string(propOut), "\n") {
				parts := strings.SplitN(strings.TrimSpace(propLine), "=", 2)
				if len(parts) != 2 {
					continue
				}
				switch parts[0] {
				case "Type":
					if parts[1] == "x11" || parts[1] == "wayland" || parts[1] == "mir" {
						sess.Display = parts[1]
					}
				case "Remote":
					sess.IsRemote = parts[1] == "yes"
				case "Seat":
					sess.Seat = parts[1]
				case "State":
					sess.State = parts[1]
				}
			}
		}

		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// WatchSessions polls loginctl's session table every sessionPollInterval and
// diffs it against the previous poll, since logind has no lightweight
// Go-native subscribe API this binary can use without pulling in dbus.
func (d *linuxDetector) WatchSessions(ctx context.Context) <-chan SessionEvent {
	ch := make(chan SessionEvent, 16)

	go func() {
		defer close(ch)

		known := make(map[string]DetectedSession)
		if sessions, err := d.ListSessions(); err == nil {
			for _, s := range sessions {
				known[s.Session] = s
			}
		}

		ticker := time.NewTicker(sessionPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := d.ListSessions()
				if err != nil {
					continue
				}

				currentMap := make(map[string]DetectedSession)
				for _, s := range current {
					currentMap[s.Session] = s
				}

				for _, ev := range diffSessions(known, currentMap) {
					ch <- ev
				}

				known = currentMap
			}
		}
	}()

	return ch
}
