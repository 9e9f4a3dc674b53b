package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/clip"
	"github.com/clipvault/clipvault/internal/permission"
	"github.com/clipvault/clipvault/internal/store"
)

func newPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Inspect or change the clipboard permission record",
		Long: `The permission record gates every clipboard read. "check" answers from the
cached record where possible; "request" always performs a live probe (the
probe is what surfaces the OS prompt); "reset" forgets a denial so the next
check probes again.`,
	}

	cmd.AddCommand(
		newPermissionSubCmd("show", "Print the persisted permission record", runPermissionShow),
		newPermissionSubCmd("check", "Check clipboard access (cached where possible)", runPermissionCheck),
		newPermissionSubCmd("request", "Actively probe for clipboard access", runPermissionRequest),
		newPermissionSubCmd("reset", "Forget the recorded outcome", runPermissionReset),
	)
	return cmd
}

func newPermissionSubCmd(use, short string, run func(*viper.Viper) error) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return run(v) },
	}
	addDataDirFlag(cmd)
	addConfigFlag(cmd)
	return cmd
}

// clipProber adapts a clipboard backend into a permission probe: the live
// probe is simply an attempted read.
func clipProber(backend clip.Backend) permission.Prober {
	return permission.ProbeFunc(func(context.Context) error {
		_, err := backend.ReadText()
		return err
	})
}

func openMachine(v *viper.Viper) (*permission.Machine, clip.Backend, error) {
	kv, err := store.Open(statePath(v))
	if err != nil {
		return nil, nil, fmt.Errorf("opening state: %w", err)
	}
	backend := clip.New()
	m, err := permission.New(kv, clipProber(backend))
	if err != nil {
		backend.Close()
		return nil, nil, fmt.Errorf("loading permission record: %w", err)
	}
	return m, backend, nil
}

func runPermissionShow(v *viper.Viper) error {
	m, backend, err := openMachine(v)
	if err != nil {
		return err
	}
	defer backend.Close()

	rec := m.Record()
	fmt.Printf("State:          %s\n", rec.State)
	if rec.LastCheckedAt > 0 {
		t := time.UnixMilli(rec.LastCheckedAt)
		fmt.Printf("Last checked:   %s (%s)\n", t.Format(time.RFC3339), fmtAge(t))
	} else {
		fmt.Printf("Last checked:   never\n")
	}
	fmt.Printf("Ever requested: %v\n", rec.EverRequested)
	fmt.Printf("Would prompt:   %v\n", m.ShouldPrompt())
	return nil
}

func runPermissionCheck(v *viper.Viper) error {
	m, backend, err := openMachine(v)
	if err != nil {
		return err
	}
	defer backend.Close()

	if m.Check(context.Background()) {
		fmt.Println("granted")
		return nil
	}
	fmt.Println("denied")
	if m.ShouldPrompt() {
		fmt.Println("run \"clipvault permission request\" to ask again")
	}
	return nil
}

func runPermissionRequest(v *viper.Viper) error {
	m, backend, err := openMachine(v)
	if err != nil {
		return err
	}
	defer backend.Close()

	if m.Request(context.Background()) {
		fmt.Println("granted")
		return nil
	}
	fmt.Println("denied")
	return nil
}

func runPermissionReset(v *viper.Viper) error {
	m, backend, err := openMachine(v)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := m.Reset(); err != nil {
		return err
	}
	fmt.Println("Permission record reset.")
	return nil
}
