package webrtccore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// shortCtx bounds StartOffer's ICE gather wait; test environments have no
// network access for STUN, so offer emission relies on the ctx.Done()
// branch rather than gathering completion.
func shortCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 200*time.Millisecond)
}

func TestStartOfferEmitsLocalOfferWithVideoAndDataChannels(t *testing.T) {
	var mu sync.Mutex
	var offerSDP string
	cb := Callbacks{
		OnLocalOffer: func(sdp string) {
			mu.Lock()
			defer mu.Unlock()
			offerSDP = sdp
		},
	}
	c := New(cb)
	defer c.Reset()

	ctx, cancel := shortCtx()
	defer cancel()
	if err := c.StartOffer(ctx, nil); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}

	mu.Lock()
	sdp := offerSDP
	mu.Unlock()
	if sdp == "" {
		t.Fatal("expected OnLocalOffer to be called with a non-empty SDP")
	}
	if !strings.Contains(sdp, "VP8") {
		t.Fatalf("expected the offer to advertise VP8, got:\n%s", sdp)
	}
	if strings.Count(sdp, "m=application") < 1 {
		t.Fatalf("expected at least one data channel m-line (control/frames share one SCTP association), got:\n%s", sdp)
	}
}

func TestTrySendControlFalseBeforeChannelOpens(t *testing.T) {
	c := New(Callbacks{})
	defer c.Reset()

	ctx, cancel := shortCtx()
	defer cancel()
	if err := c.StartOffer(ctx, nil); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}

	if c.TrySendControl([]byte("hello")) {
		t.Fatal("expected TrySendControl to fail before the remote answers and the channel opens")
	}
	if c.TrySendFrame([]byte("hello")) {
		t.Fatal("expected TrySendFrame to fail before the remote answers and the channel opens")
	}
}

func TestAcceptAnswerWithNoActiveConnectionReturnsError(t *testing.T) {
	c := New(Callbacks{})
	if err := c.AcceptAnswer("v=0"); err == nil {
		t.Fatal("expected an error when accepting an answer with no active connection")
	}
}

func TestAddRemoteCandidateWithNoActiveConnectionReturnsError(t *testing.T) {
	c := New(Callbacks{})
	if err := c.AddRemoteCandidate("candidate:1 1 UDP 1 127.0.0.1 1 typ host", "0", 0); err == nil {
		t.Fatal("expected an error when adding a candidate with no active connection")
	}
}

func TestResetAllowsStartOfferAgain(t *testing.T) {
	c := New(Callbacks{})
	defer c.Reset()

	ctx1, cancel1 := shortCtx()
	if err := c.StartOffer(ctx1, nil); err != nil {
		cancel1()
		t.Fatalf("StartOffer (first): %v", err)
	}
	cancel1()

	c.Reset()

	ctx2, cancel2 := shortCtx()
	defer cancel2()
	if err := c.StartOffer(ctx2, nil); err != nil {
		t.Fatalf("StartOffer (second, after Reset): %v", err)
	}
}

func TestToPionServersDefaultsToPublicSTUNWhenEmpty(t *testing.T) {
	servers := toPionServers(nil)
	if len(servers) != 1 || len(servers[0].URLs) != 1 {
		t.Fatalf("expected a single default STUN server, got %+v", servers)
	}
}

func TestToPionServersCarriesTURNCredentials(t *testing.T) {
	servers := toPionServers([]ICEServer{
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "user", Credential: "pass"},
	})
	if len(servers) != 1 {
		t.Fatalf("expected one server, got %d", len(servers))
	}
	if servers[0].Username != "user" {
		t.Fatalf("expected username to carry through, got %q", servers[0].Username)
	}
}
