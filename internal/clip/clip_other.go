//go:build !cgo || (!darwin && !linux && !windows)

package clip

// New returns a no-op backend suitable for headless builds.
func New() Backend {
	return &headlessBackend{watchCh: make(chan struct{})}
}
