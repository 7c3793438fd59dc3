//go:build windows

package ipc

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// pipeSecurity restricts the named pipe to SYSTEM and BUILTIN\Administrators
// full control — the pipe's own security descriptor is the first line of
// defense, checked again per-connection in IsAuthorized via the caller's
// token.
const pipeSecurity = "D:P(A;;GA;;;SY)(A;;GA;;;BA)"

// newPlatformListener opens the named pipe at path with the restrictive
// SDDL above.
func newPlatformListener(path string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: pipeSecurity,
		InputBufferSize:    64 * 1024,
		OutputBufferSize:   64 * 1024,
	}
	ln, err := winio.ListenPipe(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen pipe %s: %w", path, err)
	}
	return ln, nil
}
