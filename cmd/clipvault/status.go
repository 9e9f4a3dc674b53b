package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/ipc"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/op"
	"github.com/clipvault/clipvault/internal/syncer"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status and connected surfaces",
		Long: `Displays the background coordinator's sync status — pending operations,
last successful sync, standing errors — and every currently connected surface.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v) },
	}

	f := cmd.Flags()
	f.Bool("json", false, "output raw JSON")
	f.String("token", "", "shared secret")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(v *viper.Viper) error {
	c, err := dialSurface(v, op.OriginPopup)
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.request(&message.Message{Type: message.TypeGetStatus}, message.TypeStatus)
	if err != nil {
		return err
	}
	if resp.Status == nil {
		return fmt.Errorf("empty response")
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	printStatus(resp.Status, resp.Surfaces)
	return nil
}

func printStatus(st *syncer.Status, surfaces []message.SurfaceInfo) {
	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Socket:\t%s\n", ipc.SocketPath())
	fmt.Fprintf(w, "Syncing:\t%v\n", st.IsSyncing)
	if st.LastSyncTime > 0 {
		t := time.UnixMilli(st.LastSyncTime)
		fmt.Fprintf(w, "Last sync:\t%s (%s)\n", t.Format(time.RFC3339), fmtAge(t))
	} else {
		fmt.Fprintf(w, "Last sync:\tnever\n")
	}
	fmt.Fprintf(w, "Pending:\t%d\n", len(st.PendingOperations))
	if st.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", st.Error)
	}
	fmt.Fprintln(w)
	_ = w.Flush()

	if len(surfaces) == 0 {
		fmt.Println("No surfaces connected.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ORIGIN\tSOURCE\tCONNECTED\tLAST SEEN\n")
	_, _ = fmt.Fprintf(tw, "------\t------\t---------\t---------\n")
	for _, s := range surfaces {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			s.Origin, orDash(s.Source), fmtAge(s.ConnectedAt), fmtAge(s.LastSeen))
	}
	_ = tw.Flush()
}

func newHealthCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "health",
		Short:   "Assess sync health",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runHealth(v) },
	}

	f := cmd.Flags()
	f.Bool("json", false, "output raw JSON")
	f.String("token", "", "shared secret")
	addConfigFlag(cmd)

	return cmd
}

func runHealth(v *viper.Viper) error {
	c, err := dialSurface(v, op.OriginPopup)
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.request(&message.Message{Type: message.TypeGetHealth}, message.TypeHealth)
	if err != nil {
		return err
	}
	if resp.Health == nil {
		return fmt.Errorf("empty response")
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(resp.Health, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	hr := resp.Health
	fmt.Printf("Health: %s\n", hr.Level)
	if len(hr.Issues) > 0 {
		fmt.Println("\nIssues:")
		for _, is := range hr.Issues {
			fmt.Printf("  - %s\n", is)
		}
	}
	if len(hr.Hints) > 0 {
		fmt.Println("\nSuggestions:")
		for _, h := range hr.Hints {
			fmt.Printf("  - %s\n", h)
		}
	}
	if hr.Level != syncer.HealthHealthy {
		os.Exit(1)
	}
	return nil
}
