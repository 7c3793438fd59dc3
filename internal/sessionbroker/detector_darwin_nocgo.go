//go:build darwin && !cgo

package sessionbroker

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// darwinDetectorNoCgo is the Session-0 Watcher's non-cgo macOS fallback: a
// CGO_ENABLED=0 build of the host can't link SystemConfiguration, so it
// shells out to stat(1) on /dev/console instead of calling
// SCDynamicStoreCopyConsoleUser directly.
type darwinDetectorNoCgo struct{}

// NewSessionDetector creates a macOS session detector that reads the console
// device's owner via stat(1) instead of linking against cgo.
func NewSessionDetector() SessionDetector {
	return &darwinDetectorNoCgo{}
}

// ListSessions reports /dev/console's current owner as the active session,
// treating root and the loginwindow placeholder the same as nobody logged in.
func (d *darwinDetectorNoCgo) ListSessions() ([]DetectedSession, error) {
	out, err := exec.Command("stat", "-f", "%Su", "/dev/console").Output()
	if err != nil {
		return nil, nil
	}
	username := strings.TrimSpace(string(out))
	if username == "" || username == "root" || username == "loginwindow" {
		return nil, nil
	}

	return []DetectedSession{
		{
			Username: username,
			Session:  "console",
			Display:  "quartz",
			State:    "active",
		},
	}, nil
}

// WatchSessions polls /dev/console's owner every sessionPollInterval and
// emits a logout/login pair on any change, mirroring the cgo detector's
// fast-user-switch handling.
func (d *darwinDetectorNoCgo) WatchSessions(ctx context.Context) <-chan SessionEvent {
	ch := make(chan SessionEvent, 8)

	go func() {
		defer close(ch)

		var lastUser string
		ticker := time.NewTicker(sessionPollInterval)
		defer ticker.Stop()

		// Get initial state
		if sessions, err := d.ListSessions(); err == nil && len(sessions) > 0 {
			lastUser = sessions[0].Username
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var currentUser string
				if sessions, err := d.ListSessions(); err == nil && len(sessions) > 0 {
					currentUser = sessions[0].Username
				}

				if currentUser != lastUser {
					if lastUser != "" {
						ch <- SessionEvent{
							Type:     SessionLogout,
							Username: lastUser,
							Session:  "console",
						}
					}
					if currentUser != "" {
						ch <- SessionEvent{
							Type:     SessionLogin,
							Username: currentUser,
							Session:  "console",
							Display:  "quartz",
						}
					}
					lastUser = currentUser
				}
			}
		}
	}()

	return ch
}
