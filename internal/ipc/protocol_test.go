package ipc

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/breeze-rmm/agent/internal/config"
)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.Open(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	return s
}

func dispatch(t *testing.T, cfg *config.Store, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return Dispatch(cfg, line)
}

func TestDispatchMissingType(t *testing.T) {
	cfg := newTestStore(t)
	resp := Dispatch(cfg, []byte(`{}`))
	if resp.Status != "error" || resp.Error != ErrMissingType {
		t.Fatalf("expected missing_type error, got %+v", resp)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	cfg := newTestStore(t)
	resp := dispatch(t, cfg, Request{Type: "bogus"})
	if resp.Status != "error" || resp.Error != ErrUnknownType {
		t.Fatalf("expected unknown_type error, got %+v", resp)
	}
}

func TestDispatchMalformedLine(t *testing.T) {
	cfg := newTestStore(t)
	resp := Dispatch(cfg, []byte("not json"))
	if resp.Status != "error" || resp.Error != ErrException {
		t.Fatalf("expected exception error, got %+v", resp)
	}
}

func TestDispatchStatusReflectsStore(t *testing.T) {
	cfg := newTestStore(t)
	resp := dispatch(t, cfg, Request{Type: TypeStatus})
	if resp.Status != "ok" {
		t.Fatalf("expected ok, got %+v", resp)
	}
	if resp.HostID != cfg.HostID() {
		t.Fatalf("host_id = %q, want %q", resp.HostID, cfg.HostID())
	}
	if resp.HasPassword == nil || *resp.HasPassword {
		t.Fatal("expected has_password=false on a fresh store")
	}
}

func TestDispatchSetPasswordThenStatus(t *testing.T) {
	cfg := newTestStore(t)
	resp := dispatch(t, cfg, Request{Type: TypeSetPassword, Password: "hunter22"})
	if resp.Status != "ok" {
		t.Fatalf("set_password: %+v", resp)
	}
	if !cfg.VerifyPassword("hunter22") {
		t.Fatal("expected the config store to accept the set password")
	}

	status := dispatch(t, cfg, Request{Type: TypeStatus})
	if status.HasPassword == nil || !*status.HasPassword {
		t.Fatal("expected has_password=true after set_password")
	}
}

func TestDispatchSetPasswordRejectsEmpty(t *testing.T) {
	cfg := newTestStore(t)
	resp := dispatch(t, cfg, Request{Type: TypeSetPassword})
	if resp.Status != "error" || resp.Error != ErrEmptyPassword {
		t.Fatalf("expected empty_password error, got %+v", resp)
	}
}

func TestDispatchSetResolver(t *testing.T) {
	cfg := newTestStore(t)
	resp := dispatch(t, cfg, Request{Type: TypeSetResolver, ResolverURL: "https://resolve.example/host"})
	if resp.Status != "ok" {
		t.Fatalf("set_resolver: %+v", resp)
	}
	if got := cfg.Snapshot().SignalingResolverURL; got != "https://resolve.example/host" {
		t.Fatalf("resolver url = %q", got)
	}
}

func TestDispatchSetResolverRejectsEmpty(t *testing.T) {
	cfg := newTestStore(t)
	resp := dispatch(t, cfg, Request{Type: TypeSetResolver})
	if resp.Status != "error" || resp.Error != ErrEmptyResolver {
		t.Fatalf("expected empty_resolver error, got %+v", resp)
	}
}

func TestDispatchSetICE(t *testing.T) {
	cfg := newTestStore(t)
	resp := dispatch(t, cfg, Request{
		Type:           TypeSetICE,
		STUN:           []string{"stun:stun.example.com:3478"},
		TURNURL:        "turn:relay.example.com:3478",
		TURNUsername:   "alice",
		TURNCredential: "secret",
	})
	if resp.Status != "ok" {
		t.Fatalf("set_ice: %+v", resp)
	}
	snap := cfg.Snapshot()
	if len(snap.STUN) != 1 || snap.STUN[0] != "stun:stun.example.com:3478" {
		t.Fatalf("stun = %+v", snap.STUN)
	}
	if snap.TURN.URL != "turn:relay.example.com:3478" || snap.TURN.Username != "alice" {
		t.Fatalf("turn = %+v", snap.TURN)
	}

	status := dispatch(t, cfg, Request{Type: TypeStatus})
	if status.TURN == nil || status.TURN.Username != "alice" {
		t.Fatalf("expected status to echo turn config, got %+v", status.TURN)
	}
}

func TestDispatchSetICERejectsEmpty(t *testing.T) {
	cfg := newTestStore(t)
	resp := dispatch(t, cfg, Request{Type: TypeSetICE})
	if resp.Status != "error" || resp.Error != ErrEmptyICE {
		t.Fatalf("expected empty_ice error, got %+v", resp)
	}
}
