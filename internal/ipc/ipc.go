// Package ipc provides the local Unix-socket channel surfaces use to reach
// the background daemon. Surface CLI commands probe for a running daemon and
// fail fast with a useful error if it is absent.
package ipc

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
)

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux / macOS: $TMPDIR/clipvault.sock  (override with $CLIPVAULT_SOCKET)
//   - Windows:       \\.\pipe\clipvault      (named pipe — not yet implemented)
func SocketPath() string {
	if s := os.Getenv("CLIPVAULT_SOCKET"); s != "" {
		return s
	}
	if runtime.GOOS == "windows" {
		return `\\.\pipe\clipvault`
	}
	return filepath.Join(os.TempDir(), "clipvault.sock")
}

// IsRunning reports whether a background daemon appears to be listening on
// the IPC socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := net.Dial("unix", SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates and returns a net.Listener on the IPC socket path, removing
// any stale socket file first.
func Listen() (net.Listener, error) {
	path := SocketPath()
	// Remove stale socket from a previous (crashed) run.
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

// Dial connects to the background daemon's IPC socket.
func Dial() (net.Conn, error) {
	return net.Dial("unix", SocketPath())
}
