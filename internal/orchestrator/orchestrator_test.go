package orchestrator

import (
	"context"
	"encoding/json"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/agent/internal/config"
	"github.com/breeze-rmm/agent/internal/desktop"
)

// fakeSignaling records every message the orchestrator would send over the
// signaling socket, standing in for the real Signaling Client in tests.
type fakeSignaling struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (f *fakeSignaling) Send(raw []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, raw)
	return true
}

func (f *fakeSignaling) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		var base wireMessage
		_ = json.Unmarshal(m, &base)
		out = append(out, base.Type)
	}
	return out
}

func (f *fakeSignaling) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(f.msgs[len(f.msgs)-1], &out)
	return out
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeSignaling) {
	t.Helper()
	cfg, err := config.Open(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	if err := cfg.SetPassword("secret"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	capturer, err := desktop.NewCapturer(desktop.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCapturer: %v", err)
	}
	t.Cleanup(func() { capturer.Close() })
	injector := desktop.NewInjector()
	encoder, err := desktop.NewVideoEncoder(desktop.DefaultEncoderConfig())
	if err != nil {
		t.Fatalf("NewVideoEncoder: %v", err)
	}
	t.Cleanup(func() { encoder.Close() })

	o := New(cfg, capturer, injector, encoder, nil)
	sender := &fakeSignaling{}
	o.SetSignaling(sender)
	t.Cleanup(func() {
		o.stopFrameLoop()
		o.rtc.Reset()
	})
	return o, sender
}

// shortOfferCtx bounds how long StartOffer waits for ICE gathering; test
// environments have no network access for STUN, so this relies on the
// ctx.Done() branch in webrtccore.Core.StartOffer rather than gathering
// completion.
func shortOfferCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 200*time.Millisecond)
}

func TestOperatorHelloAcquiresLeaseAndOffersSession(t *testing.T) {
	o, sender := newTestOrchestrator(t)
	ctx, cancel := shortOfferCtx()
	defer cancel()

	raw, _ := json.Marshal(operatorHelloMsg{Type: "operator_hello", SessionID: "S1"})
	o.handleOperatorHello(ctx, raw)

	types := sender.types()
	if len(types) < 2 || types[0] != "host_hello" || types[1] != "monitor_list" {
		t.Fatalf("expected host_hello then monitor_list, got %v", types)
	}

	o.mu.Lock()
	state := o.state
	leaseID := ""
	if o.active != nil {
		leaseID = o.active.sessionID
	}
	o.mu.Unlock()
	if state != StateUnauthenticated {
		t.Fatalf("expected Unauthenticated after operator_hello, got %v", state)
	}
	if leaseID != "S1" {
		t.Fatalf("expected lease for S1, got %q", leaseID)
	}
}

// Lease safety: two operator_hello calls for distinct session ids
// on a fresh orchestrator — exactly one succeeds, the other gets host_busy,
// and the first session's lease is untouched.
func TestSecondOperatorHelloIsRejectedAsBusy(t *testing.T) {
	o, sender := newTestOrchestrator(t)
	ctx, cancel := shortOfferCtx()
	defer cancel()

	raw1, _ := json.Marshal(operatorHelloMsg{Type: "operator_hello", SessionID: "S1"})
	o.handleOperatorHello(ctx, raw1)

	raw2, _ := json.Marshal(operatorHelloMsg{Type: "operator_hello", SessionID: "S2"})
	o.handleOperatorHello(ctx, raw2)

	last := sender.last()
	if last == nil || last["type"] != "host_busy" {
		t.Fatalf("expected host_busy for the second session, got %v", last)
	}
	if last["reason"] != "active_session" {
		t.Fatalf("expected reason active_session, got %v", last["reason"])
	}

	o.mu.Lock()
	leaseID := o.active.sessionID
	o.mu.Unlock()
	if leaseID != "S1" {
		t.Fatalf("expected S1's lease to remain held, got %q", leaseID)
	}
}

func TestAuthWrongPasswordStaysUnauthenticated(t *testing.T) {
	o, sender := newTestOrchestrator(t)
	ctx, cancel := shortOfferCtx()
	defer cancel()

	raw, _ := json.Marshal(operatorHelloMsg{Type: "operator_hello", SessionID: "S1"})
	o.handleOperatorHello(ctx, raw)

	authRaw, _ := json.Marshal(authMsg{Type: "auth", Password: "wrong"})
	o.handleAuth(authRaw)

	last := sender.last()
	if last == nil || last["type"] != "auth_result" || last["status"] != "invalid" {
		t.Fatalf("expected auth_result invalid, got %v", last)
	}
	if o.authenticated() {
		t.Fatal("expected to remain unauthenticated after a wrong password")
	}
}

func TestAuthCorrectPasswordAuthenticates(t *testing.T) {
	o, sender := newTestOrchestrator(t)
	ctx, cancel := shortOfferCtx()
	defer cancel()

	raw, _ := json.Marshal(operatorHelloMsg{Type: "operator_hello", SessionID: "S1"})
	o.handleOperatorHello(ctx, raw)

	authRaw, _ := json.Marshal(authMsg{Type: "auth", Password: "secret"})
	o.handleAuth(authRaw)
	defer o.stopFrameLoop()

	last := sender.last()
	if last == nil || last["type"] != "auth_result" || last["status"] != "ok" {
		t.Fatalf("expected auth_result ok, got %v", last)
	}
	if !o.authenticated() {
		t.Fatal("expected Authenticated after a correct password")
	}
}

// Lockout end-to-end: five wrong passwords lock the
// session out with a retry_after_ms, and a subsequent correct password is
// still rejected as locked.
func TestFiveWrongPasswordsLockOut(t *testing.T) {
	o, sender := newTestOrchestrator(t)
	ctx, cancel := shortOfferCtx()
	defer cancel()

	raw, _ := json.Marshal(operatorHelloMsg{Type: "operator_hello", SessionID: "S1"})
	o.handleOperatorHello(ctx, raw)

	authRaw, _ := json.Marshal(authMsg{Type: "auth", Password: "wrong"})
	for i := 0; i < config.MaxAttempts-1; i++ {
		o.handleAuth(authRaw)
		if last := sender.last(); last["status"] != "invalid" {
			t.Fatalf("attempt %d: expected invalid, got %v", i+1, last)
		}
	}
	o.handleAuth(authRaw)
	last := sender.last()
	if last["status"] != "invalid" {
		t.Fatalf("expected the triggering failure itself to report invalid, got %v", last)
	}

	correctRaw, _ := json.Marshal(authMsg{Type: "auth", Password: "secret"})
	o.handleAuth(correctRaw)
	last = sender.last()
	if last["type"] != "auth_result" || last["status"] != "locked" {
		t.Fatalf("expected locked status even with the correct password, got %v", last)
	}
	if retry, ok := last["retry_after_ms"].(float64); !ok || retry <= 0 {
		t.Fatalf("expected a positive retry_after_ms, got %v", last["retry_after_ms"])
	}
}

// Lease safety: after a signaling drop, no input is applied until
// a new lease is established.
func TestInputDroppedAfterSignalingDisconnect(t *testing.T) {
	o, sender := newTestOrchestrator(t)
	ctx, cancel := shortOfferCtx()
	defer cancel()

	raw, _ := json.Marshal(operatorHelloMsg{Type: "operator_hello", SessionID: "S1"})
	o.handleOperatorHello(ctx, raw)
	authRaw, _ := json.Marshal(authMsg{Type: "auth", Password: "secret"})
	o.handleAuth(authRaw)
	if !o.authenticated() {
		t.Fatal("setup: expected authenticated session")
	}

	o.handleSignalingDisconnected()
	if o.authenticated() {
		t.Fatal("expected signaling disconnect to drop authentication")
	}

	sender.mu.Lock()
	sender.msgs = nil
	sender.mu.Unlock()

	inputRaw, _ := json.Marshal(inputMsg{Type: "input", Keyboard: &inputKeyJSON{Scancode: 30, Down: true}})
	o.handleInput(inputRaw)
	if len(sender.types()) != 0 {
		t.Fatalf("input after disconnect should not produce any outbound message, got %v", sender.types())
	}
}

// An auth with no lease (e.g. sent after a signaling drop, before a new
// operator_hello) must be dropped outright: no auth_result, no state change,
// no lockout counter movement.
func TestAuthWithoutSessionIsDropped(t *testing.T) {
	o, sender := newTestOrchestrator(t)

	authRaw, _ := json.Marshal(authMsg{Type: "auth", Password: "secret"})
	o.handleAuth(authRaw)

	if len(sender.types()) != 0 {
		t.Fatalf("auth without a session should produce no outbound message, got %v", sender.types())
	}
	if o.authenticated() {
		t.Fatal("auth without a session must not reach Authenticated")
	}
	if locked, _ := o.cfg.IsLocked(); locked {
		t.Fatal("auth without a session must not touch the lockout engine")
	}
}

// The still-image fallback PNG-encodes the raw
// frame and sends it tagged "image/png" rather than "vp8".
func TestSendStillImageFallsBackOverDataChannel(t *testing.T) {
	o, sender := newTestOrchestrator(t)

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	o.sendStillImage(img)

	last := sender.last()
	if last == nil || last["type"] != "frame" {
		t.Fatalf("expected a frame fallback message, got %v", last)
	}
	if last["format"] != "image/png" {
		t.Fatalf("expected format image/png for the still-image fallback, got %v", last["format"])
	}
}
