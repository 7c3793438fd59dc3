// Package desktop implements the platform capability layer: per-monitor
// screen capture, monitor enumeration, input injection, and the secure
// attention sequence. Every native call sits behind an interface so the
// orchestrator can be tested against a fake without touching the OS.
package desktop

import (
	"image"
)

// Capturer captures frames for a single monitor, attempting GPU
// desktop-duplication first and falling back to a screen-grab primitive,
// then to a synthetic placeholder if neither works. Implementations encode
// this tier order internally; Capture itself never fails for tiers 1-3,
// only if even the synthetic fallback cannot be produced.
type Capturer interface {
	// Capture acquires the next frame for monitorID. An unknown monitorID
	// falls back to the primary monitor instead of erroring.
	Capture(monitorID string) (*image.RGBA, error)

	// CaptureRegion captures a specific region of monitorID.
	CaptureRegion(monitorID string, x, y, width, height int) (*image.RGBA, error)

	// Bounds returns monitorID's dimensions.
	Bounds(monitorID string) (width, height int, err error)

	// Close releases any resources held by the capturer (duplication
	// sessions, device handles, staging textures).
	Close() error
}

// CaptureConfig holds configuration for screen capture.
type CaptureConfig struct {
	// Quality specifies the still-image fallback quality (1-100).
	Quality int

	// ScaleFactor for downscaling the capture (1.0 = full resolution).
	ScaleFactor float64
}

// DefaultConfig returns a default capture configuration.
func DefaultConfig() CaptureConfig {
	return CaptureConfig{
		Quality:     80,
		ScaleFactor: 1.0,
	}
}

// NewCapturer creates the platform-specific capturer.
func NewCapturer(config CaptureConfig) (Capturer, error) {
	return newPlatformCapturer(config)
}

// DesktopGuard restores the calling thread's previous desktop handle when
// closed. Safe to call Close more than once; platforms without a
// desktop-switch primitive use a no-op guard.
type DesktopGuard interface {
	Close() error
}
