//go:build windows

package desktop

import (
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"syscall"
	"time"
	"unsafe"
)

var (
	d3d11DLL = syscall.NewLazyDLL("d3d11.dll")

	procD3D11CreateDevice = d3d11DLL.NewProc("D3D11CreateDevice")
)

const (
	d3dDriverTypeHardware = 1
	d3dFeatureLevel11_0   = 0xb000
	d3d11SDKVersion       = 7

	d3d11CreateDeviceBGRASupport  = 0x20
	d3d11CreateDeviceVideoSupport = 0x800

	d3d11UsageStaging  = 3
	d3d11CPUAccessRead = 0x20000
	dxgiFormatB8G8R8A8 = 87

	dxgiErrWaitTimeout   = 0x887A0027
	dxgiErrAccessLost    = 0x887A0026
	dxgiErrDeviceRemoved = 0x887A0005
	dxgiErrDeviceReset   = 0x887A0007

	vtblQueryInterface = 0 // IUnknown, all COM interfaces

	dxgiDeviceGetAdapter       = 7
	dxgiAdapterEnumOutputs     = 7 // IDXGIAdapter::EnumOutputs (IUnknown=3, IDXGIObject=4 more)
	dxgiOutput1DuplicateOutput = 22
	dxgiDuplGetDesc            = 7
	dxgiDuplAcquireNextFrame   = 8
	dxgiDuplReleaseFrame       = 14
	d3d11DeviceCreateTexture2D = 5
	d3d11CtxMap                = 14
	d3d11CtxUnmap              = 15
	d3d11CtxCopyResource       = 47

	// acquireTimeoutMillis is the AcquireNextFrame wait bound. Spec requires
	// a 10ms timeout so the capture loop never blocks long enough to stall
	// the encoder on an idle monitor.
	acquireTimeoutMillis = 10
)

var (
	iidIDXGIDevice     = comGUID{0x54ec77fa, 0x1377, 0x44e6, [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}
	iidID3D11Texture2D = comGUID{0x6f15aaf2, 0xd208, 0x4e89, [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}
	iidIDXGIOutput1    = comGUID{0x00cddea8, 0x939b, 0x4b83, [8]byte{0xa3, 0x40, 0xa6, 0x85, 0x22, 0x66, 0x66, 0xcc}}
)

type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

type dxgiRational struct {
	Numerator   uint32
	Denominator uint32
}

type dxgiModeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      dxgiRational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

type dxgiOutDuplDesc struct {
	ModeDesc                   dxgiModeDesc
	Rotation                   uint32
	DesktopImageInSystemMemory int32
}

type dxgiOutDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPositionX          int32
	PointerPositionY          int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

// duplicator is one GPU desktop-duplication session for a single monitor.
// Lazily created per monitor id and lazily poisoned on unrecoverable error;
// a poisoned duplicator is never retried and nothing clears the poison, so
// capture falls through to GDI for that monitor for the rest of the
// capturer's lifetime.
type duplicator struct {
	device      uintptr
	context     uintptr
	duplication uintptr
	staging     uintptr
	width       int
	height      int
	poisoned    bool
}

// windowsCapturer implements Capturer using DXGI Desktop Duplication with a
// GDI screen-grab fallback per monitor, and a synthetic placeholder if both
// fail. monitorID is the string form of the monitor's adapter-output index;
// unknown ids fall back to index 0 (the primary monitor).
type windowsCapturer struct {
	config CaptureConfig

	mu   sync.Mutex
	dups map[int]*duplicator
	gdi  map[int]*gdiCapturer

	lastFrame map[int]*image.RGBA
}

func newPlatformCapturer(config CaptureConfig) (Capturer, error) {
	return &windowsCapturer{
		config:    config,
		dups:      make(map[int]*duplicator),
		gdi:       make(map[int]*gdiCapturer),
		lastFrame: make(map[int]*image.RGBA),
	}, nil
}

func monitorIndex(monitorID string) int {
	idx, err := strconv.Atoi(monitorID)
	if err != nil || idx < 0 {
		return 0
	}
	return idx
}

func (c *windowsCapturer) Capture(monitorID string) (*image.RGBA, error) {
	idx := monitorIndex(monitorID)

	guard, err := enterActiveDesktop()
	if err != nil {
		slog.Debug("desktop: could not enter active input desktop, capturing anyway", "error", err)
	} else {
		defer guard.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dup := c.dups[idx]
	if dup == nil {
		dup = &duplicator{}
		if err := dup.init(idx); err != nil {
			slog.Warn("desktop: DXGI duplication init failed, will use GDI fallback", "monitor", idx, "error", err)
			dup.poisoned = true
		}
		c.dups[idx] = dup
	}

	if !dup.poisoned {
		img, err := dup.acquire()
		if err == nil {
			if img != nil {
				c.lastFrame[idx] = img
				return img, nil
			}
			// timeout / no new frame: reuse the previous frame if we have one
			if prev := c.lastFrame[idx]; prev != nil {
				return prev, nil
			}
			return synthesizeRGBA(idx), nil
		}
		slog.Warn("desktop: DXGI acquire failed, falling back to GDI for this monitor", "monitor", idx, "error", err)
		dup.release()
		dup.poisoned = true
	}

	gdi := c.gdi[idx]
	if gdi == nil {
		gdi = newGDICapturer(idx)
		c.gdi[idx] = gdi
	}
	img, err := gdi.Capture()
	if err == nil && img != nil {
		c.lastFrame[idx] = img
		return img, nil
	}
	slog.Debug("desktop: GDI capture unavailable, returning synthetic placeholder", "monitor", idx, "error", err)
	return synthesizeRGBA(idx), nil
}

func (c *windowsCapturer) CaptureRegion(monitorID string, x, y, width, height int) (*image.RGBA, error) {
	full, err := c.Capture(monitorID)
	if err != nil || full == nil {
		return full, err
	}
	r := image.Rect(x, y, x+width, y+height).Intersect(full.Bounds())
	sub := image.NewRGBA(r.Sub(r.Min))
	for row := 0; row < r.Dy(); row++ {
		srcOff := full.PixOffset(r.Min.X, r.Min.Y+row)
		dstOff := sub.PixOffset(0, row)
		copy(sub.Pix[dstOff:dstOff+r.Dx()*4], full.Pix[srcOff:srcOff+r.Dx()*4])
	}
	return sub, nil
}

func (c *windowsCapturer) Bounds(monitorID string) (int, int, error) {
	idx := monitorIndex(monitorID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if dup := c.dups[idx]; dup != nil && !dup.poisoned {
		return dup.width, dup.height, nil
	}
	if img := c.lastFrame[idx]; img != nil {
		return img.Bounds().Dx(), img.Bounds().Dy(), nil
	}
	return 1920, 1080, nil
}

func (c *windowsCapturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.dups {
		d.release()
	}
	c.dups = nil
	return nil
}

func (d *duplicator) init(displayIdx int) error {
	var device, context uintptr
	featureLevel := uint32(d3dFeatureLevel11_0)
	var actualLevel uint32

	flags := uintptr(d3d11CreateDeviceBGRASupport | d3d11CreateDeviceVideoSupport)
	hr, _, _ := procD3D11CreateDevice.Call(
		0, uintptr(d3dDriverTypeHardware), 0, flags,
		uintptr(unsafe.Pointer(&featureLevel)), 1, uintptr(d3d11SDKVersion),
		uintptr(unsafe.Pointer(&device)), uintptr(unsafe.Pointer(&actualLevel)), uintptr(unsafe.Pointer(&context)),
	)
	if int32(hr) < 0 {
		hr, _, _ = procD3D11CreateDevice.Call(
			0, uintptr(d3dDriverTypeHardware), 0, 0,
			uintptr(unsafe.Pointer(&featureLevel)), 1, uintptr(d3d11SDKVersion),
			uintptr(unsafe.Pointer(&device)), uintptr(unsafe.Pointer(&actualLevel)), uintptr(unsafe.Pointer(&context)),
		)
	}
	if int32(hr) < 0 {
		return fmt.Errorf("D3D11CreateDevice: 0x%08X", uint32(hr))
	}

	var dxgiDevice uintptr
	if _, err := comCall(device, vtblQueryInterface, uintptr(unsafe.Pointer(&iidIDXGIDevice)), uintptr(unsafe.Pointer(&dxgiDevice))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("QueryInterface IDXGIDevice: %w", err)
	}
	defer comRelease(dxgiDevice)

	var adapter uintptr
	if _, err := comCall(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("IDXGIDevice::GetAdapter: %w", err)
	}
	defer comRelease(adapter)

	var output uintptr
	if _, err := comCall(adapter, dxgiAdapterEnumOutputs, uintptr(displayIdx), uintptr(unsafe.Pointer(&output))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("IDXGIAdapter::EnumOutputs: %w", err)
	}

	var output1 uintptr
	_, err := comCall(output, vtblQueryInterface, uintptr(unsafe.Pointer(&iidIDXGIOutput1)), uintptr(unsafe.Pointer(&output1)))
	comRelease(output)
	if err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("QueryInterface IDXGIOutput1: %w", err)
	}
	defer comRelease(output1)

	var duplication uintptr
	if _, err := comCall(output1, dxgiOutput1DuplicateOutput, device, uintptr(unsafe.Pointer(&duplication))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("IDXGIOutput1::DuplicateOutput: %w", err)
	}

	var duplDesc dxgiOutDuplDesc
	hrDesc, _, _ := syscall.SyscallN(comVtblFn(duplication, dxgiDuplGetDesc), duplication, uintptr(unsafe.Pointer(&duplDesc)))
	if int32(hrDesc) < 0 {
		comRelease(duplication)
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("GetDesc: 0x%08X", uint32(hrDesc))
	}
	width, height := int(duplDesc.ModeDesc.Width), int(duplDesc.ModeDesc.Height)
	if width <= 0 || height <= 0 {
		comRelease(duplication)
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("invalid duplication size %dx%d", width, height)
	}

	stagingDesc := d3d11Texture2DDesc{
		Width: uint32(width), Height: uint32(height), MipLevels: 1, ArraySize: 1,
		Format: dxgiFormatB8G8R8A8, SampleCount: 1,
		Usage: d3d11UsageStaging, CPUAccessFlags: d3d11CPUAccessRead,
	}
	var staging uintptr
	if _, err := comCall(device, d3d11DeviceCreateTexture2D, uintptr(unsafe.Pointer(&stagingDesc)), 0, uintptr(unsafe.Pointer(&staging))); err != nil {
		comRelease(duplication)
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("CreateTexture2D staging: %w", err)
	}

	d.device, d.context, d.duplication, d.staging = device, context, duplication, staging
	d.width, d.height = width, height
	return nil
}

// acquire attempts one AcquireNextFrame with a 10ms timeout. Returns
// (nil, nil) on timeout or zero accumulated frames; the caller decides
// whether to reuse the previous frame.
func (d *duplicator) acquire() (*image.RGBA, error) {
	var frameInfo dxgiOutDuplFrameInfo
	var resource uintptr

	hr, _, _ := syscall.SyscallN(
		comVtblFn(d.duplication, dxgiDuplAcquireNextFrame),
		d.duplication, uintptr(acquireTimeoutMillis),
		uintptr(unsafe.Pointer(&frameInfo)), uintptr(unsafe.Pointer(&resource)),
	)
	hresult := uint32(hr)

	switch hresult {
	case dxgiErrWaitTimeout:
		return nil, nil
	case dxgiErrAccessLost, dxgiErrDeviceRemoved, dxgiErrDeviceReset:
		return nil, fmt.Errorf("duplication lost: 0x%08X", hresult)
	}
	if int32(hr) < 0 {
		return nil, fmt.Errorf("AcquireNextFrame: 0x%08X", hresult)
	}
	defer syscall.SyscallN(comVtblFn(d.duplication, dxgiDuplReleaseFrame), d.duplication)

	if frameInfo.AccumulatedFrames == 0 {
		comRelease(resource)
		return nil, nil
	}

	var texture uintptr
	_, err := comCall(resource, vtblQueryInterface, uintptr(unsafe.Pointer(&iidID3D11Texture2D)), uintptr(unsafe.Pointer(&texture)))
	comRelease(resource)
	if err != nil {
		return nil, fmt.Errorf("QueryInterface ID3D11Texture2D: %w", err)
	}
	defer comRelease(texture)

	// ID3D11DeviceContext::CopyResource returns void; failures surface at Map.
	syscall.SyscallN(comVtblFn(d.context, d3d11CtxCopyResource), d.context, d.staging, texture)

	var mapped d3d11MappedSubresource
	hrMap, _, _ := syscall.SyscallN(comVtblFn(d.context, d3d11CtxMap), d.context, d.staging, 0, 1, 0, uintptr(unsafe.Pointer(&mapped)))
	if int32(hrMap) < 0 {
		return nil, fmt.Errorf("Map staging texture: 0x%08X", uint32(hrMap))
	}
	defer syscall.SyscallN(comVtblFn(d.context, d3d11CtxUnmap), d.context, d.staging, 0)

	// DXGI_FORMAT_B8G8R8A8_UNORM is byte order B,G,R,A; swap to RGBA as we copy.
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	rowBytes := d.width * 4
	rowPitch := int(mapped.RowPitch)
	if rowPitch == rowBytes {
		src := unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), d.height*rowPitch)
		bgraToRGBA(src, img.Pix)
	} else {
		for y := 0; y < d.height; y++ {
			src := unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData+uintptr(y*rowPitch))), rowBytes)
			bgraToRGBA(src, img.Pix[y*rowBytes:(y+1)*rowBytes])
		}
	}
	return img, nil
}

func (d *duplicator) release() {
	if d.staging != 0 {
		comRelease(d.staging)
	}
	if d.duplication != 0 {
		comRelease(d.duplication)
	}
	if d.context != 0 {
		comRelease(d.context)
	}
	if d.device != 0 {
		comRelease(d.device)
	}
	d.device, d.context, d.duplication, d.staging = 0, 0, 0, 0
}

func synthesizeRGBA(monitorIdx int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	stamp := time.Now().UTC().UnixNano()
	for i := 0; i < len(img.Pix); i += 4 {
		b := byte(stamp >> (uint(i/4%8) * 8))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = b, b, b, 0xFF
	}
	return img
}
