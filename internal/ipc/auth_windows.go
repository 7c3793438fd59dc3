//go:build windows

package ipc

import (
	"fmt"
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// PeerCredentials holds the verified identity of an IPC peer.
type PeerCredentials struct {
	PID        int
	UID        uint32 // Always 0 on Windows; use SID instead
	GID        uint32
	BinaryPath string
	SID        string // Windows Security Identifier
	Privileged bool    // true if SID is LocalSystem or BUILTIN\Administrators
}

// IdentityKey returns the platform identity key for this peer, used by the
// rate limiter.
func (p *PeerCredentials) IdentityKey() string {
	return p.SID
}

// IsAuthorized reports whether the peer is privileged enough to use the
// config IPC surface: SYSTEM or a member of BUILTIN\Administrators.
func IsAuthorized(creds *PeerCredentials) bool {
	return creds.Privileged
}

var (
	modkernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procGetNamedPipeClientProcessId = modkernel32.NewProc("GetNamedPipeClientProcessId")
)

// GetPeerCredentials returns the verified identity of a named pipe client.
// Uses GetNamedPipeClientProcessId + OpenProcessToken + GetTokenInformation.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	// For Windows named pipes, we need the raw handle.
	// net.Conn from named pipe libraries typically expose the underlying handle.
	type handleConn interface {
		Fd() uintptr
	}
	hc, ok := conn.(handleConn)
	if !ok {
		// Fallback: get peer info from the pipe connection if available
		return getPeerCredentialsFallback(conn)
	}

	handle := hc.Fd()

	// Get the client PID
	var clientPID uint32
	r1, _, err := procGetNamedPipeClientProcessId.Call(handle, uintptr(unsafe.Pointer(&clientPID)))
	if r1 == 0 {
		return nil, fmt.Errorf("ipc: GetNamedPipeClientProcessId: %w", err)
	}

	// Open the process to get its token
	proc, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, clientPID)
	if err != nil {
		return nil, fmt.Errorf("ipc: OpenProcess(%d): %w", clientPID, err)
	}
	defer windows.CloseHandle(proc)

	// Get binary path
	var pathBuf [windows.MAX_PATH]uint16
	pathLen := uint32(len(pathBuf))
	err = windows.QueryFullProcessImageName(proc, 0, &pathBuf[0], &pathLen)
	if err != nil {
		return nil, fmt.Errorf("ipc: QueryFullProcessImageName: %w", err)
	}
	binaryPath := syscall.UTF16ToString(pathBuf[:pathLen])

	// Open process token to get SID
	var token windows.Token
	err = windows.OpenProcessToken(proc, windows.TOKEN_QUERY, &token)
	if err != nil {
		return nil, fmt.Errorf("ipc: OpenProcessToken: %w", err)
	}
	defer token.Close()

	// Get token user
	tokenUser, err := token.GetTokenUser()
	if err != nil {
		return nil, fmt.Errorf("ipc: GetTokenUser: %w", err)
	}

	sid := tokenUser.User.Sid.String()

	return &PeerCredentials{
		PID:        int(clientPID),
		BinaryPath: binaryPath,
		SID:        sid,
		Privileged: isSystemOrAdmin(token),
	}, nil
}

// systemSID is the well-known SID for the LocalSystem account.
const systemSID = "S-1-5-18"

// isSystemOrAdmin reports whether token belongs to LocalSystem or a member
// of BUILTIN\Administrators — the only two identities allowed to connect
// to the config IPC surface.
func isSystemOrAdmin(token windows.Token) bool {
	user, err := token.GetTokenUser()
	if err == nil && user.User.Sid.String() == systemSID {
		return true
	}
	adminSID, err := windows.CreateWellKnownSid(windows.WinBuiltinAdministratorsSid)
	if err != nil {
		return false
	}
	isMember, err := token.IsMember(adminSID)
	return err == nil && isMember
}

// getPeerCredentialsFallback handles connections where Fd() is not available.
func getPeerCredentialsFallback(conn net.Conn) (*PeerCredentials, error) {
	// For standard net.Conn over named pipes, we may not have direct access.
	// Return an error indicating the connection type is unsupported.
	return nil, fmt.Errorf("ipc: unable to get peer credentials from connection type %T", conn)
}

// DefaultSocketPath returns the default named pipe path for Windows.
func DefaultSocketPath() string {
	return `\\.\pipe\P2PRD.Config`
}
