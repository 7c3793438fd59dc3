// Package sessionbroker watches the OS-level console session (Session-0
// Watcher) so the host process can detect login/logout/lock/switch
// transitions; the host logs each one and does not act on it further.
package sessionbroker

import (
	"context"
	"log/slog"
)

// TransitionHandler is called whenever the active console session changes.
type TransitionHandler func(SessionEvent)

// Watcher polls the active console session via a platform SessionDetector
// and reports transitions to a handler. It does not itself touch the
// desktop or input APIs — callers (the capture/input layer) decide what
// to do when the active session changes.
type Watcher struct {
	detector SessionDetector
	onChange TransitionHandler
}

// NewWatcher builds a Watcher using the platform's SessionDetector.
func NewWatcher(onChange TransitionHandler) *Watcher {
	return newWatcher(NewSessionDetector(), onChange)
}

// newWatcher builds a Watcher against an arbitrary detector, letting tests
// substitute a fake SessionDetector instead of the platform one.
func newWatcher(detector SessionDetector, onChange TransitionHandler) *Watcher {
	return &Watcher{
		detector: detector,
		onChange: onChange,
	}
}

// ActiveSessions returns a snapshot of all sessions currently on the console.
func (w *Watcher) ActiveSessions() ([]DetectedSession, error) {
	return w.detector.ListSessions()
}

// Run blocks, forwarding session transition events to the handler until ctx
// is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	events := w.detector.WatchSessions(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			slog.Info("sessionbroker: session transition",
				"type", ev.Type, "session", ev.Session, "username", ev.Username)
			if w.onChange != nil {
				w.onChange(ev)
			}
		}
	}
}
