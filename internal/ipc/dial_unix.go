//go:build !windows

package ipc

import (
	"net"
	"time"
)

func dialPlatform(path string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", path, timeout)
}
