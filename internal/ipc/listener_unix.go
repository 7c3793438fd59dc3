//go:build !windows

package ipc

import (
	"net"
	"os"
	"path/filepath"
)

// newPlatformListener opens a Unix domain socket at path, creating its
// parent directory first. Any stale socket file left behind by a crashed
// prior instance is removed before binding — net.Listen otherwise fails
// with "address already in use" on a leftover file.
func newPlatformListener(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	os.Chmod(path, 0600)
	return ln, nil
}
