package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/clip"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/op"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "paste",
		Short:   "Print the newest history item",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runPaste(v) },
	}

	f := cmd.Flags()
	f.Int("index", 0, "history index to print (0 = newest)")
	f.String("token", "", "shared secret")
	addConfigFlag(cmd)

	return cmd
}

func runPaste(v *viper.Viper) error {
	c, err := dialSurface(v, op.OriginPopup)
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.request(&message.Message{Type: message.TypeGetHistory}, message.TypeHistory)
	if err != nil {
		return err
	}

	idx := v.GetInt("index")
	if resp.History == nil || idx < 0 || idx >= len(resp.History.Items) {
		return fmt.Errorf("no history item at index %d", idx)
	}
	item := resp.History.Items[idx]
	fmt.Print(item.Content)

	// Telemetry; failures here don't matter to the user.
	_ = c.send(&message.Message{
		Type:    message.TypePasted,
		Origin:  op.OriginPopup,
		Content: item.Content,
	})
	return nil
}

func newRestoreCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "restore <item-id>",
		Short: "Copy a history item back to the OS clipboard",
		Long: `Looks up a history item by ID (a unique prefix is enough) and writes its
content to the OS clipboard — what clicking an entry in the popup does.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runRestore(v, args[0]) },
	}

	f := cmd.Flags()
	f.String("token", "", "shared secret")
	addConfigFlag(cmd)

	return cmd
}

func runRestore(v *viper.Viper, idPrefix string) error {
	c, err := dialSurface(v, op.OriginPopup)
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.request(&message.Message{Type: message.TypeGetHistory}, message.TypeHistory)
	if err != nil {
		return err
	}
	if resp.History == nil {
		return fmt.Errorf("no history")
	}

	item, err := findItem(resp.History.Items, idPrefix)
	if err != nil {
		return err
	}

	backend := clip.New()
	defer backend.Close()
	if err := backend.WriteText(item.Content); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	fmt.Printf("restored %s (%d chars)\n", shortID(item.ID), len(item.Content))
	return nil
}
