package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"guide-aggregator/config"
	"guide-aggregator/storage"
)

func newStatusCommand(app *appContext) *cobra.Command {
	var markets []string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored baseline of each market",
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := app.cfg.SelectMarkets(markets)
			if err != nil {
				return err
			}
			snapshots, err := openSnapshots(cmd.Context(), app.cfg)
			if err != nil {
				return fmt.Errorf("open snapshot store: %w", err)
			}
			defer snapshots.Close()

			out := cmd.OutOrStdout()
			for _, m := range selected {
				snap, err := snapshots.Load(cmd.Context(), m.Key)
				if err != nil {
					return fmt.Errorf("load %s: %w", m.Key, err)
				}
				renderStatus(out, m, snap)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&markets, "market", "m", nil, "Market key to show (repeatable)")
	return cmd
}

func renderStatus(w io.Writer, m config.Market, snap *storage.Snapshot) {
	if !snap.Found {
		fmt.Fprintf(w, "%s  never synced\n\n", text.Bold.Sprint(m.Key))
		return
	}
	fmt.Fprintf(w, "%s  run %s  saved %s  %d listings\n",
		text.Bold.Sprint(m.Key), snap.RunID, localTime(snap.SavedAt, m.Timezone), len(snap.Aggregate))

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Guide", "Listings", "Token"})
	perGuide := make(map[string]int)
	for _, r := range snap.Aggregate {
		perGuide[r.GuideName]++
	}
	for _, e := range snap.Baseline.Entries() {
		tw.AppendRow(table.Row{e.GuideName, perGuide[e.GuideName], e.Token})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	tw.Render()
	fmt.Fprintln(w)
}

func localTime(t time.Time, zone string) string {
	if loc, err := time.LoadLocation(zone); err == nil && zone != "" {
		t = t.In(loc)
	}
	return t.Format("2006-01-02 15:04 MST")
}
