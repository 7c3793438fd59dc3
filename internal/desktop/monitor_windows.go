//go:build windows

// ListMonitors backs the monitor registry: the set of
// MonitorInfo records the orchestrator hands to the operator so a
// "monitor_switch" request has a valid monitorID to target.
package desktop

import (
	"fmt"
	"log/slog"
	"syscall"
	"unsafe"
)

// DXGI_OUTPUT_DESC layout:
//   WCHAR DeviceName[32]  — 64 bytes (UTF-16)
//   RECT  DesktopCoordinates — 16 bytes (left, top, right, bottom int32)
//   BOOL  AttachedToDesktop  — 4 bytes
//   DXGI_MODE_ROTATION — 4 bytes
//   HMONITOR — 8 bytes (pointer)
// Total: 96 bytes
type dxgiOutputDesc struct {
	DeviceName         [32]uint16
	Left               int32
	Top                int32
	Right              int32
	Bottom             int32
	AttachedToDesktop  int32
	Rotation           uint32
	Monitor            uintptr
}

const (
	dxgiOutputGetDesc = 7 // IDXGIOutput::GetDesc (IUnknown=3, IDXGIObject=4 more, GetDesc=next)
)

// ListMonitors enumerates connected displays via DXGI and returns them as
// Monitor Registry entries, ordered by DXGI output index.
func ListMonitors() ([]MonitorInfo, error) {
	device, adapter, err := openEnumerationAdapter()
	if err != nil {
		return nil, err
	}
	defer comRelease(adapter)
	defer comRelease(device)

	monitors := enumerateOutputs(adapter)
	if len(monitors) == 0 {
		return nil, fmt.Errorf("no monitors found")
	}
	return monitors, nil
}

// openEnumerationAdapter stands up a throwaway D3D11 device purely to walk
// its DXGI adapter's attached outputs; ListMonitors never renders with it.
// On success the caller owns both returned COM references and must release
// them; on error every intermediate reference has already been released.
func openEnumerationAdapter() (device, adapter uintptr, err error) {
	var context uintptr
	featureLevel := uint32(d3dFeatureLevel11_0)
	var actualLevel uint32

	hr, _, _ := procD3D11CreateDevice.Call(
		0,
		uintptr(d3dDriverTypeHardware),
		0,
		0, // No special flags needed for enumeration
		uintptr(unsafe.Pointer(&featureLevel)),
		1,
		uintptr(d3d11SDKVersion),
		uintptr(unsafe.Pointer(&device)),
		uintptr(unsafe.Pointer(&actualLevel)),
		uintptr(unsafe.Pointer(&context)),
	)
	if int32(hr) < 0 {
		return 0, 0, fmt.Errorf("D3D11CreateDevice failed: 0x%08X", uint32(hr))
	}
	defer comRelease(context)

	var dxgiDevice uintptr
	if _, err := comCall(device, vtblQueryInterface,
		uintptr(unsafe.Pointer(&iidIDXGIDevice)),
		uintptr(unsafe.Pointer(&dxgiDevice)),
	); err != nil {
		comRelease(device)
		return 0, 0, fmt.Errorf("QueryInterface IDXGIDevice: %w", err)
	}
	defer comRelease(dxgiDevice)

	if _, err := comCall(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		comRelease(device)
		return 0, 0, fmt.Errorf("IDXGIDevice::GetAdapter: %w", err)
	}

	return device, adapter, nil
}

// enumerateOutputs walks adapter's attached DXGI outputs and converts each
// one into a Monitor Registry entry, skipping outputs not attached to the
// desktop and stopping at the first DXGI_ERROR_NOT_FOUND.
func enumerateOutputs(adapter uintptr) []MonitorInfo {
	var monitors []MonitorInfo
	for i := 0; ; i++ {
		var output uintptr
		hr, _, _ := syscall.SyscallN(
			comVtblFn(adapter, dxgiAdapterEnumOutputs),
			adapter,
			uintptr(i),
			uintptr(unsafe.Pointer(&output)),
		)
		if int32(hr) < 0 {
			if uint32(hr) != 0x887A0002 { // not DXGI_ERROR_NOT_FOUND
				slog.Warn("desktop: DXGI EnumOutputs failed", "index", i, "hr", fmt.Sprintf("0x%08X", uint32(hr)))
			}
			break
		}

		var desc dxgiOutputDesc
		hr, _, _ = syscall.SyscallN(
			comVtblFn(output, dxgiOutputGetDesc),
			output,
			uintptr(unsafe.Pointer(&desc)),
		)
		comRelease(output)

		if int32(hr) < 0 {
			slog.Warn("desktop: DXGI GetDesc failed", "index", i, "hr", fmt.Sprintf("0x%08X", uint32(hr)))
			continue
		}
		if desc.AttachedToDesktop == 0 {
			continue
		}

		monitors = append(monitors, MonitorInfo{
			Index:     i,
			Name:      syscall.UTF16ToString(desc.DeviceName[:]),
			Width:     int(desc.Right - desc.Left),
			Height:    int(desc.Bottom - desc.Top),
			X:         int(desc.Left),
			Y:         int(desc.Top),
			IsPrimary: desc.Left == 0 && desc.Top == 0,
		})
	}
	return monitors
}
