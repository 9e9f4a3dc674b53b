package clip

// headlessBackend is the clipboard backend for environments without a
// display server (headless servers, containers, CI). Every read is refused,
// which the permission layer records as a denied probe.
type headlessBackend struct {
	watchCh chan struct{}
}

func (b *headlessBackend) Name() string              { return "headless (no-op)" }
func (b *headlessBackend) ReadText() (string, error) { return "", ErrNotAllowed }
func (b *headlessBackend) WriteText(_ string) error  { return ErrNotAllowed }
func (b *headlessBackend) Watch() <-chan struct{}    { return b.watchCh }
func (b *headlessBackend) Close()                    {}
