package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterFrac:    0,
	}
}

func TestDoSucceedsWithoutRetryOn200(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, fastRetryConfig(3))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestDoRetriesRetryableStatusThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, fastRetryConfig(5))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if calls != 3 {
		t.Fatalf("expected 3 calls (2 failures + 1 success), got %d", calls)
	}
}

func TestDoDoesNotRetryNonRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, fastRetryConfig(3))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 passed through, got %d", resp.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("expected no retry for a non-retryable status, got %d calls", calls)
	}
}

func TestDoExhaustsRetriesAndReturnsRetryableStatusError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Do(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, fastRetryConfig(2))
	if err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
	if _, ok := err.(*RetryableStatusError); !ok {
		t.Fatalf("expected *RetryableStatusError, got %T: %v", err, err)
	}
	if calls != 3 { // initial attempt + 2 retries
		t.Fatalf("expected 3 total attempts, got %d", calls)
	}
}

func TestDoAbortsOnContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastRetryConfig(3)
	cfg.InitialDelay = 50 * time.Millisecond // long enough that ctx.Done() wins the select
	_, err := Do(ctx, srv.Client(), http.MethodGet, srv.URL, nil, nil, cfg)
	if err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}

func TestApplyJitterZeroFracReturnsInputUnchanged(t *testing.T) {
	d := 10 * time.Millisecond
	if got := applyJitter(d, 0); got != d {
		t.Fatalf("expected no jitter applied, got %v want %v", got, d)
	}
}

func TestApplyJitterStaysWithinBounds(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := applyJitter(d, 0.3)
		if got < 0 || got > 2*d {
			t.Fatalf("jittered duration %v out of sane bounds around %v", got, d)
		}
	}
}
