package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/op"
)

func newHistoryCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "List the shared clipboard history",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runHistory(v) },
	}

	f := cmd.Flags()
	f.Bool("json", false, "output raw JSON")
	f.String("token", "", "shared secret")
	addConfigFlag(cmd)

	return cmd
}

func runHistory(v *viper.Viper) error {
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
		return fmt.Errorf("empty response")
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(resp.History, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	if len(resp.History.Items) == 0 {
		fmt.Println("History is empty.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\tAGE\tSOURCE\tCONTENT\n")
	_, _ = fmt.Fprintf(tw, "--\t---\t------\t-------\n")
	for _, it := range resp.History.Items {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			shortID(it.ID),
			fmtAge(time.UnixMilli(it.Timestamp)),
			orDash(it.Source),
			preview(it.Content, 60),
		)
	}
	_ = tw.Flush()
	fmt.Printf("\n%d of %d slots used\n", len(resp.History.Items), resp.History.MaxItems)
	return nil
}

func newClearCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "clear",
		Short:   "Clear the shared history on every surface",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runClear(v) },
	}

	f := cmd.Flags()
	f.String("origin", "popup", "surface to act as: popup|sidepanel|content")
	f.String("token", "", "shared secret")
	addConfigFlag(cmd)

	return cmd
}

func runClear(v *viper.Viper) error {
	origin, err := parseOrigin(v.GetString("origin"))
	if err != nil {
		return err
	}

	c, err := dialSurface(v, origin)
	if err != nil {
		return err
	}
	defer c.Close()

	o := op.NewClear(time.Now().UnixMilli(), origin)
	if err := c.send(&message.Message{Type: message.TypeSyncOperation, Origin: origin, Operation: &o}); err != nil {
		return err
	}
	fmt.Println("History cleared.")
	return nil
}

func newDeleteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "delete <item-id>",
		Short:   "Delete one history item on every surface",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runDelete(v, args[0]) },
	}

	f := cmd.Flags()
	f.String("origin", "popup", "surface to act as: popup|sidepanel|content")
	f.String("token", "", "shared secret")
	addConfigFlag(cmd)

	return cmd
}

func runDelete(v *viper.Viper, idPrefix string) error {
	origin, err := parseOrigin(v.GetString("origin"))
	if err != nil {
		return err
	}

	c, err := dialSurface(v, origin)
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.request(&message.Message{Type: message.TypeGetHistory}, message.TypeHistory)
	if err != nil {
		return err
	}
	if resp.History == nil {
		return fmt.Errorf("empty response")
	}
	item, err := findItem(resp.History.Items, idPrefix)
	if err != nil {
		return err
	}

	o := op.NewDelete(item.ID, time.Now().UnixMilli(), origin)
	if err := c.send(&message.Message{Type: message.TypeSyncOperation, Origin: origin, Operation: &o}); err != nil {
		return err
	}
	fmt.Printf("Deleted %s.\n", shortID(item.ID))
	return nil
}

// findItem resolves a unique item ID prefix against the history.
func findItem(items []history.Item, idPrefix string) (history.Item, error) {
	var matches []history.Item
	for _, it := range items {
		if strings.HasPrefix(it.ID, idPrefix) {
			matches = append(matches, it)
		}
	}
	switch len(matches) {
	case 0:
		return history.Item{}, fmt.Errorf("no item with id %q", idPrefix)
	case 1:
		return matches[0], nil
	default:
		return history.Item{}, fmt.Errorf("id %q is ambiguous (%d matches)", idPrefix, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func preview(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", "␤")
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Format("15:04:05")
}
