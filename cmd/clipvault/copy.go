package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/clip"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/permission"
	"github.com/clipvault/clipvault/internal/store"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy [text]",
		Short: "Record a copied item in the shared history",
		Long: `Submits a clipboard-copied event to the background daemon as a surface.
Text is taken from the argument, from stdin, or — with --from-clipboard —
from the OS clipboard (gated by the permission record, like any surface).`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runCopy(v, args) },
	}

	f := cmd.Flags()
	f.String("origin", "content", "surface to act as: popup|sidepanel|content")
	f.Bool("from-clipboard", false, "read the text from the OS clipboard")
	f.String("token", "", "shared secret")
	addDataDirFlag(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runCopy(v *viper.Viper, args []string) error {
	origin, err := parseOrigin(v.GetString("origin"))
	if err != nil {
		return err
	}

	var text string
	switch {
	case v.GetBool("from-clipboard"):
		text, err = readFromClipboard(v)
		if err != nil {
			return err
		}
	case len(args) == 1:
		text = args[0]
	default:
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(raw)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to copy")
	}

	c, err := dialSurface(v, origin)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.send(&message.Message{
		Type:    message.TypeCopied,
		Origin:  origin,
		Source:  defaultSource(),
		Content: text,
	})
}

// readFromClipboard reads the OS clipboard through the permission state
// machine, exactly as a surface observing a copy event would.
func readFromClipboard(v *viper.Viper) (string, error) {
	kv, err := store.Open(statePath(v))
	if err != nil {
		return "", fmt.Errorf("opening state: %w", err)
	}

	backend := clip.New()
	defer backend.Close()

	perm, err := permission.New(kv, clipProber(backend))
	if err != nil {
		return "", fmt.Errorf("loading permission record: %w", err)
	}

	ctx := context.Background()
	if !perm.Check(ctx) {
		if perm.ShouldPrompt() {
			return "", fmt.Errorf("clipboard access denied — run \"clipvault permission request\"")
		}
		return "", fmt.Errorf("clipboard access denied")
	}

	text, err := backend.ReadText()
	if err != nil {
		return "", fmt.Errorf("clipboard read: %w", err)
	}
	return text, nil
}
