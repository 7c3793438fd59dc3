package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveOnceBypassesHTTPForAbsoluteWS(t *testing.T) {
	r := NewResolver(New(nil, nil), "wss://relay.example/ws", 0)
	got, err := r.resolveOnce(context.Background())
	if err != nil {
		t.Fatalf("resolveOnce: %v", err)
	}
	if got != "wss://relay.example/ws" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveOnceParsesDocument(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"url":"wss://relay.example/ws?hostId=abc"}`))
	}))
	defer ts.Close()

	r := NewResolver(New(nil, nil), ts.URL, 0)
	got, err := r.resolveOnce(context.Background())
	if err != nil {
		t.Fatalf("resolveOnce: %v", err)
	}
	if got != "wss://relay.example/ws?hostId=abc" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveOnceRejectsEmptyURLField(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"url":""}`))
	}))
	defer ts.Close()

	r := NewResolver(New(nil, nil), ts.URL, 0)
	if _, err := r.resolveOnce(context.Background()); err == nil {
		t.Fatal("expected an error for an empty url field")
	}
}

func TestResolveOnceRejectsNonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	r := NewResolver(New(nil, nil), ts.URL, 0)
	if _, err := r.resolveOnce(context.Background()); err == nil {
		t.Fatal("expected an error for a non-200 status")
	}
}
