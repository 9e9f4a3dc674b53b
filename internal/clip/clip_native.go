//go:build cgo && (darwin || linux || windows)

package clip

import (
	"bytes"
	"log/slog"
	"time"

	"golang.design/x/clipboard"
)

const pollInterval = 250 * time.Millisecond

type nativeBackend struct {
	watchCh  chan struct{}
	done     chan struct{}
	lastText []byte
}

// New returns the native clipboard backend, or a headless no-op backend if
// the display environment is unavailable. clipboard.Init is called here
// rather than in init() so that CLI sub-commands that never touch the
// clipboard don't trigger the probe.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return &headlessBackend{watchCh: make(chan struct{})}
	}
	b := &nativeBackend{
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go b.poll()
	return b
}

func (b *nativeBackend) Name() string { return "native clipboard (poll)" }

func (b *nativeBackend) poll() {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			text := clipboard.Read(clipboard.FmtText)
			if !bytes.Equal(text, b.lastText) {
				b.lastText = text
				select {
				case b.watchCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (b *nativeBackend) ReadText() (string, error) {
	text := clipboard.Read(clipboard.FmtText)
	if len(text) == 0 {
		return "", ErrEmpty
	}
	return string(text), nil
}

func (b *nativeBackend) WriteText(text string) error {
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

func (b *nativeBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *nativeBackend) Close()                 { close(b.done) }
