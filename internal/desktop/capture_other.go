//go:build !windows

package desktop

import (
	"image"
	"log/slog"
	"sync"
	"time"
)

// otherCapturer is the non-Windows capturer. GPU desktop-duplication and the
// GDI screen-grab are Windows-only primitives (see capture_windows.go); on
// every other platform this package runs the tier-4 synthetic placeholder
// only, logged once so a host accidentally run on Linux/macOS is diagnosable
// rather than silently dark.
type otherCapturer struct {
	config CaptureConfig

	mu     sync.Mutex
	warned bool
}

func newPlatformCapturer(config CaptureConfig) (Capturer, error) {
	return &otherCapturer{config: config}, nil
}

func (c *otherCapturer) Capture(monitorID string) (*image.RGBA, error) {
	c.mu.Lock()
	if !c.warned {
		slog.Warn("desktop: no real capture primitive on this platform, streaming synthetic placeholder frames", "monitor", monitorID)
		c.warned = true
	}
	c.mu.Unlock()
	return synthesizeRGBAOther(), nil
}

func (c *otherCapturer) CaptureRegion(monitorID string, x, y, width, height int) (*image.RGBA, error) {
	full, err := c.Capture(monitorID)
	if err != nil {
		return nil, err
	}
	r := image.Rect(x, y, x+width, y+height).Intersect(full.Bounds())
	return full.SubImage(r).(*image.RGBA), nil
}

func (c *otherCapturer) Bounds(monitorID string) (int, int, error) {
	return 16, 16, nil
}

func (c *otherCapturer) Close() error { return nil }

func synthesizeRGBAOther() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	stamp := time.Now().UTC().UnixNano()
	for i := 0; i < len(img.Pix); i += 4 {
		b := byte(stamp >> (uint(i/4%8) * 8))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = b, b, b, 0xFF
	}
	return img
}
