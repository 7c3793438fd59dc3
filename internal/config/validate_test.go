package config

import "testing"

func TestValidateICERequiresStunOrTurn(t *testing.T) {
	if err := ValidateICE(nil, ""); err == nil {
		t.Fatal("expected error when neither stun nor turn is set")
	}
	if err := ValidateICE([]string{"stun:stun.example.com:3478"}, ""); err != nil {
		t.Fatalf("stun-only config should be valid: %v", err)
	}
	if err := ValidateICE(nil, "turn:turn.example.com:3478"); err != nil {
		t.Fatalf("turn-only config should be valid: %v", err)
	}
}

func TestValidateICERejectsBadScheme(t *testing.T) {
	if err := ValidateICE([]string{"stun.example.com:3478"}, ""); err == nil {
		t.Fatal("expected error for stun entry missing scheme")
	}
	if err := ValidateICE(nil, "https://turn.example.com"); err == nil {
		t.Fatal("expected error for turn url with http scheme")
	}
}

func TestValidateResolverURL(t *testing.T) {
	if err := ValidateResolverURL(""); err == nil {
		t.Fatal("expected error for empty resolver url")
	}
	if err := ValidateResolverURL("ftp://example.com"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	for _, u := range []string{"https://example.com/resolve", "wss://example.com/ws"} {
		if err := ValidateResolverURL(u); err != nil {
			t.Fatalf("expected %q to validate, got %v", u, err)
		}
	}
}
