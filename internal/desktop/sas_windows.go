//go:build windows

// The host process runs as LocalSystem with no interactive desktop of its
// own, so the "ctrl_alt_del" special action from the Input Injector (spec
// §4.5) can't be synthesized as an ordinary SendInput keystroke — the
// secure attention sequence is intercepted by the OS below the input queue
// precisely so a regular application can't fake it. SendSAS is the
// documented escape hatch for exactly this situation.
package desktop

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

var (
	sasDLL  = syscall.NewLazyDLL("sas.dll")
	sendSAS = sasDLL.NewProc("SendSAS")

	modAdvapi32               = windows.NewLazySystemDLL("advapi32.dll")
	procAdjustTokenPrivileges = modAdvapi32.NewProc("AdjustTokenPrivileges")
)

// enableTcbPrivilege enables SE_TCB_PRIVILEGE on the current process token.
// This privilege is typically held only by the LocalSystem account the
// host service runs under, and is required for SendSAS(TRUE) (application
// mode).
func enableTcbPrivilege() error {
	var token windows.Token
	proc := windows.CurrentProcess()
	err := windows.OpenProcessToken(proc, windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token)
	if err != nil {
		return fmt.Errorf("OpenProcessToken: %w", err)
	}
	defer token.Close()

	var luid windows.LUID
	tcbName, _ := windows.UTF16PtrFromString("SeTcbPrivilege")
	err = windows.LookupPrivilegeValue(nil, tcbName, &luid)
	if err != nil {
		return fmt.Errorf("LookupPrivilegeValue(SeTcbPrivilege): %w", err)
	}

	type tokenPrivileges struct {
		PrivilegeCount uint32
		Privileges     [1]windows.LUIDAndAttributes
	}

	tp := tokenPrivileges{
		PrivilegeCount: 1,
		Privileges: [1]windows.LUIDAndAttributes{
			{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED},
		},
	}

	ret, _, lastErr := procAdjustTokenPrivileges.Call(
		uintptr(token),
		0,
		uintptr(unsafe.Pointer(&tp)),
		0, 0, 0,
	)
	if ret == 0 {
		return fmt.Errorf("AdjustTokenPrivileges: %w", lastErr)
	}
	if errno, ok := lastErr.(syscall.Errno); ok && errno == syscall.Errno(windows.ERROR_NOT_ALL_ASSIGNED) {
		return fmt.Errorf("SE_TCB_PRIVILEGE not held by this token")
	}
	return nil
}

// currentSessionID returns the Windows session ID the host process is
// attached to, logged alongside every SAS attempt since the
// sessionbroker.Watcher tracks the same id for its own transitions.
func currentSessionID() (uint32, error) {
	pid := windows.GetCurrentProcessId()
	var sessionID uint32
	if err := windows.ProcessIdToSessionId(pid, &sessionID); err != nil {
		return 0, err
	}
	return sessionID, nil
}

func loadSendSAS() error {
	if err := sasDLL.Load(); err != nil {
		return fmt.Errorf("sas.dll not available: %w", err)
	}
	if err := sendSAS.Find(); err != nil {
		return fmt.Errorf("SendSAS proc not found: %w", err)
	}
	return nil
}

// callSendSAS invokes SendSAS from sas.dll. SendSAS is a VOID API, so a
// successful call only means the request was issued — registry policy may
// still cause Windows to ignore it silently.
func callSendSAS(asUser bool) error {
	if err := loadSendSAS(); err != nil {
		return err
	}
	mode := uintptr(0)
	if asUser {
		mode = 1
	}
	sendSAS.Call(mode)
	slog.Info("desktop: SendSAS invoked", "asUser", asUser)
	return nil
}

// InvokeSAS implements the input injector's "ctrl_alt_del" special action
// by sending the Secure Attention Sequence through sas.dll.
// It tries the service-mode call first (SendSAS(FALSE), reliable from the
// SCM-registered host process with no extra privilege), then falls back to
// application mode (SendSAS(TRUE), requiring SeTcbPrivilege) only if the
// service path is disallowed or fails. Failures are logged non-fatally;
// the caller never treats this as more than a best-effort action.
func InvokeSAS() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if sessionID, err := currentSessionID(); err != nil {
		slog.Warn("desktop: ctrl_alt_del: failed to determine session id", "error", err)
	} else {
		slog.Info("desktop: ctrl_alt_del requested", "sessionId", sessionID)
	}

	policy := CheckSASPolicy()
	var errs []error

	if policy.AllowsServices() {
		if err := callSendSAS(false); err != nil {
			errs = append(errs, fmt.Errorf("SendSAS(FALSE): %w", err))
		} else {
			slog.Info("desktop: ctrl_alt_del delivered", "path", "service", "policy", int(policy))
			return nil
		}
	} else {
		errs = append(errs, fmt.Errorf("SoftwareSASGeneration policy (%d) does not allow service SAS", policy))
	}

	if policy.AllowsApps() {
		if err := enableTcbPrivilege(); err != nil {
			errs = append(errs, fmt.Errorf("enable SeTcbPrivilege: %w", err))
		} else if err := callSendSAS(true); err != nil {
			errs = append(errs, fmt.Errorf("SendSAS(TRUE): %w", err))
		} else {
			if len(errs) > 0 {
				slog.Warn("desktop: ctrl_alt_del: service path failed, application path succeeded", "serviceErrors", errors.Join(errs...).Error())
			}
			slog.Info("desktop: ctrl_alt_del delivered", "path", "application", "policy", int(policy))
			return nil
		}
	}

	return errors.Join(errs...)
}

// SASPolicyStatus represents the SoftwareSASGeneration registry value.
type SASPolicyStatus int

const (
	SASPolicyDisabled     SASPolicyStatus = 0 // SAS generation disabled (default)
	SASPolicyServices     SASPolicyStatus = 1 // Only services can generate SAS
	SASPolicyApps         SASPolicyStatus = 2 // Only applications with SeTcbPrivilege can generate SAS
	SASPolicyServicesApps SASPolicyStatus = 3 // Both services and applications can generate SAS
)

// AllowsServices reports whether the policy permits service-mode SAS (SendSAS(FALSE)).
func (p SASPolicyStatus) AllowsServices() bool {
	return p == SASPolicyServices || p == SASPolicyServicesApps
}

// AllowsApps reports whether the policy permits application-mode SAS (SendSAS(TRUE)).
func (p SASPolicyStatus) AllowsApps() bool {
	return p == SASPolicyApps || p == SASPolicyServicesApps
}

const sasRegistryPath = `SOFTWARE\Microsoft\Windows\CurrentVersion\Policies\System`
const sasRegistryKey = "SoftwareSASGeneration"

// CheckSASPolicy reads the SoftwareSASGeneration registry value to determine
// if software-generated SAS is allowed and in which mode.
func CheckSASPolicy() SASPolicyStatus {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, sasRegistryPath, registry.QUERY_VALUE)
	if err != nil {
		// Key doesn't exist — SAS generation is disabled (default)
		return SASPolicyDisabled
	}
	defer k.Close()

	val, _, err := k.GetIntegerValue(sasRegistryKey)
	if err != nil {
		return SASPolicyDisabled
	}
	if val > 3 {
		slog.Warn("desktop: unexpected SoftwareSASGeneration registry value, treating as disabled", "value", val)
		return SASPolicyDisabled
	}
	return SASPolicyStatus(val)
}
