package sessionbroker

import (
	"context"
	"testing"
	"time"
)

type fakeDetector struct {
	sessions []DetectedSession
	events   chan SessionEvent
}

func (f *fakeDetector) ListSessions() ([]DetectedSession, error) {
	return f.sessions, nil
}

func (f *fakeDetector) WatchSessions(ctx context.Context) <-chan SessionEvent {
	out := make(chan SessionEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-f.events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func TestWatcherActiveSessionsDelegatesToDetector(t *testing.T) {
	det := &fakeDetector{sessions: []DetectedSession{{Username: "alice", Session: "1"}}}
	w := newWatcher(det, nil)

	got, err := w.ActiveSessions()
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(got) != 1 || got[0].Username != "alice" {
		t.Fatalf("unexpected sessions: %+v", got)
	}
}

func TestWatcherForwardsTransitions(t *testing.T) {
	det := &fakeDetector{events: make(chan SessionEvent, 1)}
	received := make(chan SessionEvent, 1)
	w := newWatcher(det, func(ev SessionEvent) { received <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	det.events <- SessionEvent{Type: SessionLogin, Username: "bob", Session: "2"}

	select {
	case ev := <-received:
		if ev.Type != SessionLogin || ev.Username != "bob" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the handler to be called")
	}
}

func TestWatcherRunStopsOnContextCancel(t *testing.T) {
	det := &fakeDetector{events: make(chan SessionEvent)}
	w := newWatcher(det, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
