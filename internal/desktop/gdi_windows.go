//go:build windows

package desktop

import (
	"fmt"
	"image"
	"sync"
	"syscall"
	"unsafe"
)

var (
	user32 = syscall.NewLazyDLL("user32.dll")
	gdi32  = syscall.NewLazyDLL("gdi32.dll")

	procGetDC              = user32.NewProc("GetDC")
	procReleaseDC          = user32.NewProc("ReleaseDC")
	procGetSystemMetrics   = user32.NewProc("GetSystemMetrics")
	procSetProcessDPIAware = user32.NewProc("SetProcessDPIAware")

	procOpenInputDesktop = user32.NewProc("OpenInputDesktop")
	procSetThreadDesktop = user32.NewProc("SetThreadDesktop")
	procGetThreadDesktop = user32.NewProc("GetThreadDesktop")
	procCloseDesktop     = user32.NewProc("CloseDesktop")

	procCreateDCW              = gdi32.NewProc("CreateDCW")
	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procGetDIBits              = gdi32.NewProc("GetDIBits")

	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procGetCurrentThreadID  = kernel32.NewProc("GetCurrentThreadId")
)

const (
	smCxScreen       = 0
	smCyScreen       = 1
	srcCopy          = 0x00CC0020
	captureBlt       = 0x40000000
	biRGB            = 0
	dibRGBColors     = 0
	desktopGenericAll = 0x10000000
)

type bitmapInfoHeader struct {
	BiSize          uint32
	BiWidth         int32
	BiHeight        int32
	BiPlanes        uint16
	BiBitCount      uint16
	BiCompression   uint32
	BiSizeImage     uint32
	BiXPelsPerMeter int32
	BiYPelsPerMeter int32
	BiClrUsed       uint32
	BiClrImportant  uint32
}

type bitmapInfo struct {
	BmiHeader bitmapInfoHeader
	BmiColors [1]uint32
}

var displayDeviceName = syscall.StringToUTF16Ptr("DISPLAY")

func init() {
	if procSetProcessDPIAware.Find() == nil {
		procSetProcessDPIAware.Call()
	}
}

// desktopGuard restores the thread's previous desktop handle on Close.
type desktopGuard struct {
	prev uintptr
	opened uintptr
}

func (g *desktopGuard) Close() error {
	if g == nil {
		return nil
	}
	if g.prev != 0 {
		procSetThreadDesktop.Call(g.prev)
	}
	if g.opened != 0 {
		procCloseDesktop.Call(g.opened)
	}
	return nil
}

// enterActiveDesktop switches the calling OS thread onto the currently
// active input desktop (Default, Winlogon, or a screensaver desktop) for the
// duration of the returned guard. Needed so capture and input injection
// follow the user across UAC prompts and the lock screen instead of being
// stuck on whichever desktop the process started on.
func enterActiveDesktop() (DesktopGuard, error) {
	prev, _, _ := procGetThreadDesktop.Call(uintptr(getCurrentThreadID()))

	hDesk, _, err := procOpenInputDesktop.Call(0, 0, uintptr(desktopGenericAll))
	if hDesk == 0 {
		return nil, fmt.Errorf("OpenInputDesktop: %w", err)
	}
	if ok, _, err := procSetThreadDesktop.Call(hDesk); ok == 0 {
		procCloseDesktop.Call(hDesk)
		return nil, fmt.Errorf("SetThreadDesktop: %w", err)
	}
	return &desktopGuard{prev: prev, opened: hDesk}, nil
}

func getCurrentThreadID() uint32 {
	id, _, _ := procGetCurrentThreadID.Call()
	return uint32(id)
}

// gdiCapturer implements a GDI BitBlt fallback for one monitor. GDI has no
// per-adapter output index the way DXGI duplication does, so the monitor's
// rectangle in virtual-screen coordinates is resolved through the Monitor
// Registry and BitBlt'd directly out of the display DC; when no registry
// entry matches, the primary screen's metrics are used instead.
type gdiCapturer struct {
	monitorIdx int

	mu            sync.Mutex
	screenDC      uintptr
	screenDCOwned bool
	memDC         uintptr
	hBitmap       uintptr
	oldBitmap     uintptr
	bi            bitmapInfo
	srcX          int
	srcY          int
	width         int
	height        int
	inited        bool
	pixBuf        []byte
}

func newGDICapturer(monitorIdx int) *gdiCapturer {
	return &gdiCapturer{monitorIdx: monitorIdx}
}

func (c *gdiCapturer) ensureHandles() error {
	if c.inited {
		return nil
	}
	// The rectangle is resolved once per handle generation; a resolution or
	// layout change surfaces as a capture failure, which releases the handles
	// and re-resolves on the retry.
	srcX, srcY, width, height := c.sourceRect()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("no usable monitor dimensions")
	}
	c.releaseHandlesLocked()

	hdc, _, _ := procCreateDCW.Call(uintptr(unsafe.Pointer(displayDeviceName)), 0, 0, 0)
	owned := true
	if hdc == 0 {
		hdc, _, _ = procGetDC.Call(0)
		owned = false
		if hdc == 0 {
			return fmt.Errorf("both CreateDC and GetDC failed")
		}
	}

	memDC, _, _ := procCreateCompatibleDC.Call(hdc)
	if memDC == 0 {
		freeScreenDC(hdc, owned)
		return fmt.Errorf("CreateCompatibleDC failed")
	}
	hBitmap, _, _ := procCreateCompatibleBitmap.Call(hdc, uintptr(width), uintptr(height))
	if hBitmap == 0 {
		procDeleteDC.Call(memDC)
		freeScreenDC(hdc, owned)
		return fmt.Errorf("CreateCompatibleBitmap failed")
	}
	oldBitmap, _, _ := procSelectObject.Call(memDC, hBitmap)
	if oldBitmap == 0 {
		procDeleteObject.Call(hBitmap)
		procDeleteDC.Call(memDC)
		freeScreenDC(hdc, owned)
		return fmt.Errorf("SelectObject failed")
	}

	c.screenDC, c.screenDCOwned = hdc, owned
	c.memDC, c.hBitmap, c.oldBitmap = memDC, hBitmap, oldBitmap
	c.srcX, c.srcY = srcX, srcY
	c.width, c.height, c.inited = width, height, true
	c.pixBuf = make([]byte, width*height*4)
	c.bi = bitmapInfo{BmiHeader: bitmapInfoHeader{
		BiSize:        uint32(unsafe.Sizeof(bitmapInfoHeader{})),
		BiWidth:       int32(width),
		BiHeight:      -int32(height),
		BiPlanes:      1,
		BiBitCount:    32,
		BiCompression: biRGB,
	}}
	return nil
}

// sourceRect resolves the monitor's rectangle in virtual-screen pixels,
// falling back to the primary screen's metrics when enumeration has nothing
// for this index (likely here: the DXGI-backed registry tends to be down
// whenever GDI is the tier in use).
func (c *gdiCapturer) sourceRect() (x, y, width, height int) {
	if monitors, err := ListMonitors(); err == nil {
		for _, m := range monitors {
			if m.Index == c.monitorIdx && m.Width > 0 && m.Height > 0 {
				return m.X, m.Y, m.Width, m.Height
			}
		}
	}
	w, _, _ := procGetSystemMetrics.Call(smCxScreen)
	h, _, _ := procGetSystemMetrics.Call(smCyScreen)
	return 0, 0, int(w), int(h)
}

func freeScreenDC(hdc uintptr, owned bool) {
	if owned {
		procDeleteDC.Call(hdc)
	} else {
		procReleaseDC.Call(0, hdc)
	}
}

func (c *gdiCapturer) releaseHandlesLocked() {
	if !c.inited {
		return
	}
	if c.oldBitmap != 0 && c.memDC != 0 {
		procSelectObject.Call(c.memDC, c.oldBitmap)
	}
	if c.hBitmap != 0 {
		procDeleteObject.Call(c.hBitmap)
	}
	if c.memDC != 0 {
		procDeleteDC.Call(c.memDC)
	}
	if c.screenDC != 0 {
		freeScreenDC(c.screenDC, c.screenDCOwned)
	}
	c.inited = false
	c.screenDC, c.memDC, c.hBitmap, c.oldBitmap = 0, 0, 0, 0
}

func (c *gdiCapturer) Capture() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt == 1 {
			c.releaseHandlesLocked()
		}
		if err := c.ensureHandles(); err != nil {
			lastErr = err
			continue
		}
		if img, err := c.captureOnceLocked(); err == nil {
			return img, nil
		} else {
			lastErr = err
		}
	}
	return nil, lastErr
}

func (c *gdiCapturer) captureOnceLocked() (*image.RGBA, error) {
	ret, _, _ := procBitBlt.Call(c.memDC, 0, 0, uintptr(c.width), uintptr(c.height), c.screenDC, uintptr(c.srcX), uintptr(c.srcY), srcCopy|captureBlt)
	if ret == 0 {
		ret, _, _ = procBitBlt.Call(c.memDC, 0, 0, uintptr(c.width), uintptr(c.height), c.screenDC, uintptr(c.srcX), uintptr(c.srcY), srcCopy)
		if ret == 0 {
			return nil, fmt.Errorf("BitBlt failed")
		}
	}
	ret, _, _ = procGetDIBits.Call(c.memDC, c.hBitmap, 0, uintptr(c.height),
		uintptr(unsafe.Pointer(&c.pixBuf[0])), uintptr(unsafe.Pointer(&c.bi)), dibRGBColors)
	if ret == 0 {
		return nil, fmt.Errorf("GetDIBits failed")
	}

	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	bgraToRGBA(c.pixBuf, img.Pix)
	return img, nil
}

func (c *gdiCapturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseHandlesLocked()
	return nil
}

// bgraToRGBA swaps the B and R channels in place; GDI delivers BGRA, every
// downstream consumer (image.RGBA, the VP8 encoder) expects RGBA order.
func bgraToRGBA(src, dst []byte) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i+3 < n; i += 4 {
		dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i+2], src[i+1], src[i], src[i+3]
	}
}
