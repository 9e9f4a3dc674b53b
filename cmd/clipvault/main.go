// clipvault: clipboard history with cross-context sync.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipvault/clipvault/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipvault",
		Short: "Clipboard history with cross-context sync",
		Long: `clipvault records items copied to the system clipboard, keeps a bounded
history, and synchronises that history across every running surface (popup,
side panel, content, and the background daemon).

Run "clipvault serve" to start the background daemon. The other sub-commands
act as surfaces: they connect over a local Unix socket, submit mutations, and
render the shared history.

Config file search order (first found wins):
  /etc/clipvault/clipvault.toml
  $HOME/.config/clipvault/clipvault.toml
  path supplied via --config

All flags can be set via CLIPVAULT_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newCopyCmd(),
		newPasteCmd(),
		newRestoreCmd(),
		newHistoryCmd(),
		newClearCmd(),
		newDeleteCmd(),
		newStatusCmd(),
		newHealthCmd(),
		newPermissionCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("clipvault %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
