//go:build !windows

// Non-Windows builds have no secure attention sequence to speak of; the
// input injector's "ctrl_alt_del" special action still needs a
// symbol to call, logged and swallowed the same way any other
// unimplemented-on-this-platform action would be.
package desktop

import (
	"errors"
	"log/slog"
)

var errNotSupportedOnPlatform = errors.New("not supported on this platform")

// InvokeSAS is a no-op on non-Windows platforms.
func InvokeSAS() error {
	slog.Debug("desktop: ctrl_alt_del requested, no secure attention primitive on this platform")
	return errNotSupportedOnPlatform
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

// CheckSASPolicy always returns disabled on non-Windows platforms.
func CheckSASPolicy() SASPolicyStatus {
	return SASPolicyDisabled
}
