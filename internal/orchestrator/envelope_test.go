package orchestrator

import (
	"bytes"
	"testing"
)

// Frame envelope round-trip: for all (header, payload) with
// payload length > 0, parse(encode(header, payload)) == (header, payload).
func TestFrameEnvelopeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		header  FrameHeader
		payload []byte
	}{
		{"small", FrameHeader{Width: 640, Height: 480, Format: "vp8"}, []byte{1, 2, 3}},
		{"leading zero byte in payload", FrameHeader{Width: 1920, Height: 1080, Format: "image/png"}, []byte{0x00, 0xff, 0x00, 0x01}},
		{"single byte payload", FrameHeader{Width: 1, Height: 1, Format: "vp8"}, []byte{0x00}},
		{"all-zero payload", FrameHeader{Width: 100, Height: 100, Format: "vp8"}, bytes.Repeat([]byte{0}, 16)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			encoded, err := EncodeFrameEnvelope(c.header, c.payload)
			if err != nil {
				t.Fatalf("EncodeFrameEnvelope: %v", err)
			}
			header, payload, err := ParseFrameEnvelope(encoded)
			if err != nil {
				t.Fatalf("ParseFrameEnvelope: %v", err)
			}
			if header != c.header {
				t.Fatalf("header mismatch: got %+v want %+v", header, c.header)
			}
			if !bytes.Equal(payload, c.payload) {
				t.Fatalf("payload mismatch: got %v want %v", payload, c.payload)
			}
		})
	}
}

func TestParseFrameEnvelopeRejectsMissingDelimiter(t *testing.T) {
	if _, _, err := ParseFrameEnvelope([]byte(`{"width":1,"height":1,"format":"vp8"}`)); err == nil {
		t.Fatal("expected an error when no delimiter byte is present")
	}
}

func TestEncodeFrameEnvelopeEmptyPayload(t *testing.T) {
	encoded, err := EncodeFrameEnvelope(FrameHeader{Width: 1, Height: 1, Format: "vp8"}, nil)
	if err != nil {
		t.Fatalf("EncodeFrameEnvelope: %v", err)
	}
	header, payload, err := ParseFrameEnvelope(encoded)
	if err != nil {
		t.Fatalf("ParseFrameEnvelope: %v", err)
	}
	if header.Width != 1 || len(payload) != 0 {
		t.Fatalf("unexpected round trip for empty payload: %+v %v", header, payload)
	}
}
