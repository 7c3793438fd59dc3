//go:build darwin

package sessionbroker

/*
#cgo LDFLAGS: -framework SystemConfiguration -framework CoreFoundation
#include <SystemConfiguration/SystemConfiguration.h>
#include <CoreFoundation/CoreFoundation.h>

// getConsoleUser returns the current console user's username and UID.
static int getConsoleUser(char *buf, int bufsize, unsigned int *uid) {
    CFStringRef username = SCDynamicStoreCopyConsoleUser(NULL, (uid_t *)uid, NULL);
    if (username == NULL) return 0;
    Boolean ok = CFStringGetCString(username, buf, bufsize, kCFStringEncodingUTF8);
    CFRelease(username);
    return ok ? 1 : 0;
}
*/
import "C"

import (
	"context"
	"time"
	"unsafe"
)

// darwinDetector is the Session-0 Watcher's cgo macOS backend: the console
// user is whoever SCDynamicStore says owns the login window, and unlike
// Linux/Windows there's exactly one console slot to watch, not a table.
type darwinDetector struct{}

// NewSessionDetector creates a macOS session detector backed by
// SCDynamicStoreCopyConsoleUser (built only when cgo is enabled; see
// detector_darwin_nocgo.go for the CGO_ENABLED=0 fallback).
func NewSessionDetector() SessionDetector {
	return &darwinDetector{}
}

// ListSessions returns the single active console user, or an empty slice if
// nobody (or just the loginwindow placeholder) owns the console.
func (d *darwinDetector) ListSessions() ([]DetectedSession, error) {
	var buf [256]C.char
	var uid C.uint

	ret := C.getConsoleUser(&buf[0], C.int(len(buf)), &uid)
	if ret == 0 {
		return nil, nil // No console user
	}

	username := C.GoString(&buf[0])
	if username == "loginwindow" || username == "" {
		return nil, nil
	}

	return []DetectedSession{
		{
			UID:      uint32(uid),
			Username: username,
			Session:  "console",
			Display:  "quartz",
			State:    "active",
		},
	}, nil
}

// WatchSessions polls SCDynamicStoreCopyConsoleUser every sessionPollInterval
// and emits a logout/login pair whenever the console user changes — fast
// user switching looks identical to a logout immediately followed by a
// login from this API's point of view, which matches how the Session-0
// Watcher already treats a Windows WTS session handoff.
func (d *darwinDetector) WatchSessions(ctx context.Context) <-chan SessionEvent {
	ch := make(chan SessionEvent, 8)

	go func() {
		defer close(ch)

		var buf [256]C.char
		var uid C.uint
		var lastUser string
		var lastUID uint32

		ticker := time.NewTicker(sessionPollInterval)
		defer ticker.Stop()

		// Get initial state
		if C.getConsoleUser(&buf[0], C.int(len(buf)), &uid) != 0 {
			lastUser = C.GoString((*C.char)(unsafe.Pointer(&buf[0])))
			lastUID = uint32(uid)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var currentUser string
				var currentUID uint32

				if C.getConsoleUser(&buf[0], C.int(len(buf)), &uid) != 0 {
					currentUser = C.GoString((*C.char)(unsafe.Pointer(&buf[0])))
					currentUID = uint32(uid)
				}

				if currentUser == "loginwindow" {
					currentUser = ""
				}

				if currentUser != lastUser {
					if lastUser != "" {
						ch <- SessionEvent{
							Type:     SessionLogout,
							UID:      lastUID,
							Username: lastUser,
							Session:  "console",
						}
					}
					if currentUser != "" {
						ch <- SessionEvent{
							Type:     SessionLogin,
							UID:      currentUID,
							Username: currentUser,
							Session:  "console",
							Display:  "quartz",
						}
					}
					lastUser = currentUser
					lastUID = currentUID
				}
			}
		}
	}()

	return ch
}
