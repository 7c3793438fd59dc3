//go:build windows

package sessionbroker

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsDetector is the Session-0 Watcher's Windows backend: it queries the
// Terminal Services session table directly via wtsapi32 rather than parsing
// `query session` output, since the host process already links against
// golang.org/x/sys/windows for the rest of its platform surface.
type windowsDetector struct{}

// NewSessionDetector creates a Windows session detector backed by the WTS
// (Windows Terminal Services) enumeration API.
func NewSessionDetector() SessionDetector {
	return &windowsDetector{}
}

var (
	modWtsapi32              = windows.NewLazySystemDLL("wtsapi32.dll")
	procWTSEnumerateSessions = modWtsapi32.NewProc("WTSEnumerateSessionsW")
	procWTSFreeMemory        = modWtsapi32.NewProc("WTSFreeMemory")
	procWTSQuerySessionInfo  = modWtsapi32.NewProc("WTSQuerySessionInformationW")
)

const (
	wtsCurrentServerHandle = 0
	wtsUserName            = 5
	wtsDomainName          = 7
)

type wtsSessionInfo struct {
	SessionID uint32
	WinStationName *uint16
	State     uint32
}

// ListSessions enumerates WTS sessions and keeps only the console's active
// or disconnected interactive sessions — service session 0 and listener
// slots never correspond to a real console user the Session-0 Watcher
// should report.
func (d *windowsDetector) ListSessions() ([]DetectedSession, error) {
	var sessionInfo uintptr
	var count uint32

	r1, _, err := procWTSEnumerateSessions.Call(
		wtsCurrentServerHandle,
		0, // reserved
		1, // version
		uintptr(unsafe.Pointer(&sessionInfo)),
		uintptr(unsafe.Pointer(&count)),
	)
	if r1 == 0 {
		return nil, fmt.Errorf("WTSEnumerateSessions: %w", err)
	}
	defer procWTSFreeMemory.Call(sessionInfo)

	var sessions []DetectedSession
	size := unsafe.Sizeof(wtsSessionInfo{})

	for i := uint32(0); i < count; i++ {
		info := (*wtsSessionInfo)(unsafe.Pointer(sessionInfo + uintptr(i)*size))

		// Skip services session (0) and listener sessions
		if info.SessionID == 0 || info.State == 6 { // WTSListen = 6
			continue
		}

		// Only include active/disconnected sessions
		if info.State != 0 && info.State != 4 { // WTSActive = 0, WTSDisconnected = 4
			continue
		}

		username := d.querySessionString(info.SessionID, wtsUserName)
		if username == "" {
			continue
		}

		sessions = append(sessions, DetectedSession{
			Username: username,
			Session:  fmt.Sprintf("%d", info.SessionID),
			State:    wtsStateString(info.State),
			Display:  "windows",
		})
	}

	return sessions, nil
}

// WatchSessions polls the WTS session table every sessionPollInterval;
// WTSRegisterSessionNotification needs a window handle to deliver
// WM_WTSSESSION_CHANGE to, and this process has none, so polling stands in
// for the push notification a GUI app would normally use.
func (d *windowsDetector) WatchSessions(ctx context.Context) <-chan SessionEvent {
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

func (d *windowsDetector) querySessionString(sessionID uint32, infoClass uint32) string {
	var buf uintptr
	var bytesReturned uint32

	r1, _, _ := procWTSQuerySessionInfo.Call(
		wtsCurrentServerHandle,
		uintptr(sessionID),
		uintptr(infoClass),
		uintptr(unsafe.Pointer(&buf)),
		uintptr(unsafe.Pointer(&bytesReturned)),
	)
	if r1 == 0 || buf == 0 {
		return ""
	}
	defer procWTSFreeMemory.Call(buf)

	return windows.UTF16PtrToString((*uint16)(unsafe.Pointer(buf)))
}

func wtsStateString(state uint32) string {
	switch state {
	case 0:
		return "active"
	case 4:
		return "disconnected"
	default:
		return "unknown"
	}
}
