package ipc

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	r := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !r.Allow("uid:1000") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if r.Allow("uid:1000") {
		t.Fatal("fourth attempt within the window should be rejected")
	}
}

func TestRateLimiterTracksIdentitiesIndependently(t *testing.T) {
	r := NewRateLimiter(1, time.Minute)
	if !r.Allow("uid:1000") {
		t.Fatal("first attempt for uid:1000 should be allowed")
	}
	if !r.Allow("uid:2000") {
		t.Fatal("first attempt for a different identity should be allowed")
	}
	if r.Allow("uid:1000") {
		t.Fatal("second attempt for uid:1000 should be rejected")
	}
}

func TestRateLimiterSlidesWithWindow(t *testing.T) {
	r := NewRateLimiter(1, 20*time.Millisecond)
	if !r.Allow("uid:1000") {
		t.Fatal("first attempt should be allowed")
	}
	if r.Allow("uid:1000") {
		t.Fatal("immediate second attempt should be rejected")
	}
	time.Sleep(30 * time.Millisecond)
	if !r.Allow("uid:1000") {
		t.Fatal("attempt after the window elapses should be allowed again")
	}
}

func TestRateLimiterResetClearsState(t *testing.T) {
	r := NewRateLimiter(1, time.Minute)
	if !r.Allow("uid:1000") {
		t.Fatal("first attempt should be allowed")
	}
	r.Reset()
	if !r.Allow("uid:1000") {
		t.Fatal("attempt after Reset should be allowed again")
	}
}
