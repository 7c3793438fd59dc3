package desktop

import (
	"math"
	"testing"
)

func TestMapToPhysicalClampsOutOfRange(t *testing.T) {
	m := MonitorInfo{X: 100, Y: 50, Width: 1920, Height: 1080}

	px, py := MapToPhysical(m, 1.0, -1, 2)
	if px != float64(m.X) {
		t.Fatalf("expected x clamped to monitor left, got %v", px)
	}
	if py != float64(m.Y)+float64(m.Height) {
		t.Fatalf("expected y clamped to monitor bottom, got %v", py)
	}
}

// Coordinate mapping idempotence: mapping a normalized (x,y) into
// monitor bounds B and then normalizing the physical result by B again must
// recover (x,y) to within one physical pixel.
func TestMapToPhysicalRoundTripsWithinOnePixel(t *testing.T) {
	m := MonitorInfo{X: 0, Y: 0, Width: 2560, Height: 1440}
	scale := 1.25

	cases := []struct{ x, y float64 }{
		{0, 0}, {1, 1}, {0.5, 0.5}, {0.25, 0.75}, {0.999, 0.001},
	}
	for _, c := range cases {
		px, py := MapToPhysical(m, scale, c.x, c.y)

		// Normalize back by the same bounds/scale.
		gotX := (px - float64(m.X)*scale) / (float64(m.Width) * scale)
		gotY := (py - float64(m.Y)*scale) / (float64(m.Height) * scale)

		onePixelX := 1.0 / (float64(m.Width) * scale)
		onePixelY := 1.0 / (float64(m.Height) * scale)

		if math.Abs(gotX-c.x) > onePixelX {
			t.Errorf("x round-trip: in=%v got=%v tolerance=%v", c.x, gotX, onePixelX)
		}
		if math.Abs(gotY-c.y) > onePixelY {
			t.Errorf("y round-trip: in=%v got=%v tolerance=%v", c.y, gotY, onePixelY)
		}
	}
}

func TestMapToPhysicalRespectsMonitorOrigin(t *testing.T) {
	m := MonitorInfo{X: 1920, Y: 0, Width: 1280, Height: 1024}
	px, py := MapToPhysical(m, 1.0, 0, 0)
	if px != 1920 || py != 0 {
		t.Fatalf("expected origin mapped to monitor top-left, got (%v, %v)", px, py)
	}
}
