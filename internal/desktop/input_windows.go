//go:build windows

package desktop

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
	"unsafe"
)

var (
	sendInput        = user32.NewProc("SendInput")
	getSystemMetrics = user32.NewProc("GetSystemMetrics")
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	mouseEventFMove       = 0x0001
	mouseEventFLeftDown   = 0x0002
	mouseEventFLeftUp     = 0x0004
	mouseEventFRightDown  = 0x0008
	mouseEventFRightUp    = 0x0010
	mouseEventFMiddleDown = 0x0020
	mouseEventFMiddleUp   = 0x0040
	mouseEventFXDown      = 0x0080
	mouseEventFXUp        = 0x0100
	mouseEventFWheel      = 0x0800
	mouseEventFHWheel     = 0x1000
	mouseEventFAbsolute   = 0x8000
	mouseEventFVirtualDesk = 0x4000

	xButton1 = 0x0001
	xButton2 = 0x0002

	smXVirtualScreen  = 76
	smYVirtualScreen  = 77
	smCXVirtualScreen = 78
	smCYVirtualScreen = 79

	keyEventFExtendedKey = 0x0001
	keyEventFKeyUp       = 0x0002
	keyEventFScancode    = 0x0008
)

type mouseInput struct {
	dx, dy      int32
	mouseData   uint32
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

type keybdInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

type rawInput struct {
	inputType uint32
	padding   [4]byte
	payload   mouseInput // also used to hold keybdInput via unsafe cast; same size on amd64
}

// windowsInjector implements Injector with KEYEVENTF_SCANCODE keyboard
// injection and DPI-scaled absolute mouse positioning via SendInput.
type windowsInjector struct {
	mu sync.Mutex

	threadLocked    bool
	lastDesktopSync time.Time
	currentDesktop  uintptr
}

// NewInjector creates the platform input injector.
func NewInjector() Injector {
	return &windowsInjector{}
}

func (h *windowsInjector) ensureInputDesktop() {
	now := time.Now()
	if now.Sub(h.lastDesktopSync) < 500*time.Millisecond {
		return
	}
	h.lastDesktopSync = now

	if !h.threadLocked {
		runtime.LockOSThread()
		h.threadLocked = true
	}

	hDesk, _, _ := procOpenInputDesktop.Call(0, 0, uintptr(desktopGenericAll))
	if hDesk == 0 {
		return
	}
	ret, _, _ := procSetThreadDesktop.Call(hDesk)
	if ret == 0 {
		procCloseDesktop.Call(hDesk)
		return
	}
	if h.currentDesktop != 0 {
		procCloseDesktop.Call(h.currentDesktop)
	}
	h.currentDesktop = hDesk
}

func monitorBounds(monitorID string) MonitorInfo {
	idx := monitorIndex(monitorID)
	monitors, err := ListMonitors()
	if err != nil || len(monitors) == 0 {
		return MonitorInfo{Width: 1920, Height: 1080, IsPrimary: true}
	}
	for _, m := range monitors {
		if m.Index == idx {
			return m
		}
	}
	for _, m := range monitors {
		if m.IsPrimary {
			return m
		}
	}
	return monitors[0]
}

// effectiveDPIScale returns the per-monitor DPI scale factor. Left at 1.0:
// per-monitor DPI awareness needs PROCESS_PER_MONITOR_DPI_AWARE declared in
// the application manifest, which this binary does not ship.
func effectiveDPIScale() float64 { return 1.0 }

func (h *windowsInjector) Mouse(monitorID string, in MouseInput) error {
	h.ensureInputDesktop()

	b := monitorBounds(monitorID)
	s := effectiveDPIScale()
	px, py := MapToPhysical(b, s, in.X, in.Y)
	x, y := int32(px), int32(py)

	vx, _, _ := getSystemMetrics.Call(smXVirtualScreen)
	vy, _, _ := getSystemMetrics.Call(smYVirtualScreen)
	vw, _, _ := getSystemMetrics.Call(smCXVirtualScreen)
	vh, _, _ := getSystemMetrics.Call(smCYVirtualScreen)
	if vw == 0 || vh == 0 {
		return fmt.Errorf("GetSystemMetrics returned zero virtual screen size")
	}
	absX := int32(((int(x) - int(int32(vx))) * 65536) / int(vw))
	absY := int32(((int(y) - int(int32(vy))) * 65536) / int(vh))

	move := rawInput{inputType: inputMouse}
	move.payload.dx, move.payload.dy = absX, absY
	move.payload.dwFlags = mouseEventFMove | mouseEventFAbsolute | mouseEventFVirtualDesk
	sendInput.Call(1, uintptr(unsafe.Pointer(&move)), unsafe.Sizeof(move))

	for btn, state := range in.Buttons {
		if state == ButtonUnchanged {
			continue
		}
		h.button(btn, state == ButtonPressed)
	}

	if in.WheelVertical != 0 {
		w := rawInput{inputType: inputMouse}
		w.payload.dwFlags = mouseEventFWheel
		w.payload.mouseData = uint32(int32(in.WheelVertical * 120))
		sendInput.Call(1, uintptr(unsafe.Pointer(&w)), unsafe.Sizeof(w))
	}
	if in.WheelHorizontal != 0 {
		w := rawInput{inputType: inputMouse}
		w.payload.dwFlags = mouseEventFHWheel
		w.payload.mouseData = uint32(int32(in.WheelHorizontal * 120))
		sendInput.Call(1, uintptr(unsafe.Pointer(&w)), unsafe.Sizeof(w))
	}
	return nil
}

func (h *windowsInjector) button(btn MouseButton, down bool) {
	inp := rawInput{inputType: inputMouse}
	switch btn {
	case MouseLeft:
		if down {
			inp.payload.dwFlags = mouseEventFLeftDown
		} else {
			inp.payload.dwFlags = mouseEventFLeftUp
		}
	case MouseRight:
		if down {
			inp.payload.dwFlags = mouseEventFRightDown
		} else {
			inp.payload.dwFlags = mouseEventFRightUp
		}
	case MouseMiddle:
		if down {
			inp.payload.dwFlags = mouseEventFMiddleDown
		} else {
			inp.payload.dwFlags = mouseEventFMiddleUp
		}
	case MouseX1, MouseX2:
		if down {
			inp.payload.dwFlags = mouseEventFXDown
		} else {
			inp.payload.dwFlags = mouseEventFXUp
		}
		if btn == MouseX1 {
			inp.payload.mouseData = xButton1
		} else {
			inp.payload.mouseData = xButton2
		}
	default:
		return
	}
	ret, _, _ := sendInput.Call(1, uintptr(unsafe.Pointer(&inp)), unsafe.Sizeof(inp))
	if ret == 0 {
		slog.Debug("desktop: SendInput mouse button failed", "button", btn, "down", down)
	}
}

func (h *windowsInjector) Key(in KeyInput) error {
	h.ensureInputDesktop()

	inp := rawInput{inputType: inputKeyboard}
	ki := (*keybdInput)(unsafe.Pointer(&inp.payload))
	ki.wScan = in.Scancode
	ki.dwFlags = keyEventFScancode
	if in.Extended {
		ki.dwFlags |= keyEventFExtendedKey
	}
	if !in.Down {
		ki.dwFlags |= keyEventFKeyUp
	}

	ret, _, _ := sendInput.Call(1, uintptr(unsafe.Pointer(&inp)), unsafe.Sizeof(inp))
	if ret == 0 {
		return fmt.Errorf("SendInput failed for scancode=0x%X down=%v", in.Scancode, in.Down)
	}
	return nil
}

func (h *windowsInjector) Special(action SpecialAction) error {
	switch action {
	case ActionCtrlAltDel:
		if err := InvokeSAS(); err != nil {
			slog.Warn("desktop: ctrl_alt_del failed", "error", err)
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown special action: %d", action)
	}
}
