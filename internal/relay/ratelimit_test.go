package relay

import (
	"testing"
	"time"
)

func TestIPLimiterAllowsUpToMax(t *testing.T) {
	l := newIPLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if l.allow("1.2.3.4") {
		t.Fatal("fourth attempt within the window should be rejected")
	}
}

func TestIPLimiterTracksIPsIndependently(t *testing.T) {
	l := newIPLimiter(1, time.Minute)
	if !l.allow("1.2.3.4") {
		t.Fatal("first attempt from 1.2.3.4 should be allowed")
	}
	if !l.allow("5.6.7.8") {
		t.Fatal("first attempt from a different ip should be allowed")
	}
	if l.allow("1.2.3.4") {
		t.Fatal("second attempt from 1.2.3.4 should be rejected")
	}
}

func TestIPLimiterSlidesWithWindow(t *testing.T) {
	l := newIPLimiter(1, 20*time.Millisecond)
	if !l.allow("1.2.3.4") {
		t.Fatal("first attempt should be allowed")
	}
	if l.allow("1.2.3.4") {
		t.Fatal("immediate second attempt should be rejected")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.allow("1.2.3.4") {
		t.Fatal("attempt after the window elapses should be allowed again")
	}
}
