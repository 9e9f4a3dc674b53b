package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/clip"
	"github.com/clipvault/clipvault/internal/crypto"
	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/hub"
	"github.com/clipvault/clipvault/internal/ipc"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/op"
	"github.com/clipvault/clipvault/internal/permission"
	"github.com/clipvault/clipvault/internal/store"
	"github.com/clipvault/clipvault/internal/surfacepeer"
	"github.com/clipvault/clipvault/internal/syncer"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background daemon (authoritative sync context)",
		Long: `Starts the clipvault background daemon. It owns the persisted history,
watches the OS clipboard for copies (gated by the permission record), and
routes every mutation between connected surfaces.

Precedence (lowest → highest): defaults → config file → CLIPVAULT_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServe(v) },
	}

	f := cmd.Flags()
	f.String("token", "", "shared secret for surface connections (empty = no auth)")
	f.Int("max-items", history.DefaultMaxItems, "history capacity")
	f.String("source", "", "label recorded on items captured from the OS clipboard")
	f.Bool("no-watch", false, "disable OS clipboard watching (IPC-only mode)")
	addDataDirFlag(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(v *viper.Viper) error {
	setupLogging(v)

	token := v.GetString("token")
	source := v.GetString("source")
	if source == "" {
		source = defaultSource()
	}

	var key *[32]byte
	if token != "" {
		var err error
		key, err = crypto.DeriveKey(token)
		if err != nil {
			return fmt.Errorf("key derivation: %w", err)
		}
	}

	kv, err := store.Open(statePath(v))
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}

	hist, err := history.NewStore(kv, v.GetInt("max-items"))
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	backend := clip.New()
	defer backend.Close()

	perm, err := permission.New(kv, clipProber(backend))
	if err != nil {
		return fmt.Errorf("loading permission record: %w", err)
	}

	h := hub.New()
	h.SetState(hist.Snapshot())
	coord := syncer.New(op.OriginBackground, hist, hub.Broadcaster{Hub: h})

	// Every history mutation pushes the canonical state to all surfaces.
	hist.OnChange(func(st history.State) {
		h.SetState(st)
		h.Forward(&message.Message{
			Type:    message.TypeUpdated,
			Origin:  op.OriginBackground,
			History: &st,
		}, "")
	})

	slog.Info("clipvault daemon starting",
		"version", Version,
		"state", kv.Path(),
		"max_items", hist.Snapshot().MaxItems,
		"clipboard", backend.Name(),
		"encrypted", key != nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go coord.Run(ctx)

	if !v.GetBool("no-watch") {
		go watchClipboard(ctx, backend, perm, coord, source)
	}

	ln, err := ipc.Listen()
	if err != nil {
		return fmt.Errorf("listen %s: %w", ipc.SocketPath(), err)
	}
	slog.Info("IPC socket listening", "path", ipc.SocketPath())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("daemon shutting down")
				return nil
			}
			slog.Error("accept failed", "err", err)
			continue
		}
		peer := surfacepeer.New(conn, h, coord, hist, token, key)
		go peer.Serve()
	}
}

// watchClipboard turns OS clipboard changes into create operations, gated by
// the permission state machine. Duplicate reads (our own write-backs, or the
// poller firing twice) are suppressed.
func watchClipboard(ctx context.Context, backend clip.Backend, perm *permission.Machine, coord *syncer.Coordinator, source string) {
	slog.Info("clipboard watcher started", "backend", backend.Name())

	var lastText string
	for {
		select {
		case <-ctx.Done():
			return
		case <-backend.Watch():
		}

		if !perm.Check(ctx) {
			if perm.ShouldPrompt() {
				slog.Info("clipboard permission needed — run \"clipvault permission request\"")
			}
			continue
		}

		text, err := backend.ReadText()
		if err != nil {
			slog.Debug("clipboard read skipped", "err", err)
			continue
		}
		if text == "" || text == lastText {
			continue
		}
		lastText = text

		item := history.NewTextItem(text, source)
		if err := coord.Submit(ctx, op.NewCreate(item, op.OriginBackground)); err != nil {
			slog.Error("recording copy failed", "err", err)
		}
	}
}
