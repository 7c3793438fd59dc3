//go:build !windows

package desktop

import "log/slog"

// otherInjector is a no-op input injector for platforms without a native
// input-injection primitive (see capture_other.go for the matching
// capture-side degradation).
type otherInjector struct{}

// NewInjector creates the platform input injector.
func NewInjector() Injector {
	return &otherInjector{}
}

func (otherInjector) Mouse(monitorID string, in MouseInput) error {
	slog.Debug("desktop: mouse input ignored, no injector on this platform", "monitor", monitorID)
	return nil
}

func (otherInjector) Key(in KeyInput) error {
	slog.Debug("desktop: key input ignored, no injector on this platform", "scancode", in.Scancode)
	return nil
}

func (otherInjector) Special(action SpecialAction) error {
	slog.Debug("desktop: special action ignored, no injector on this platform", "action", action)
	return nil
}
