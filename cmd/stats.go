/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/doctran/internal/learning"
	"github.com/valpere/doctran/internal/store"
)

var (
	statsLimit     uint64
	statsDay       string
	statsEventType string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning statistics",
	Long: `Show daily hit, miss and correction rates of the translation memory
and glossary.

Example:
  doctran stats list --limit 7
  doctran stats rollup --day 2025-06-01
  doctran stats events --type wrong_suggestion`,
}

var statsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List daily statistics, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		rows, err := db.ListStats(context.Background(), statsLimit)
		if err != nil {
			return fmt.Errorf("failed to list stats: %w", err)
		}
		if len(rows) == 0 {
			fmt.Println("No statistics yet. Run \"doctran stats rollup\".")
			return nil
		}
		return printStats(rows...)
	},
}

var statsRollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Recompute the statistics of one day",
	RunE: func(cmd *cobra.Command, args []string) error {
		day := time.Now().UTC()
		if statsDay != "" {
			var err error
			if day, err = time.Parse("2006-01-02", statsDay); err != nil {
				return fmt.Errorf("invalid --day %q: %w", statsDay, err)
			}
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		st, err := learning.New(db, nil).Rollup(context.Background(), day)
		if err != nil {
			return fmt.Errorf("failed to roll up %s: %w", store.Day(day), err)
		}
		return printStats(st)
	},
}

var statsEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent learning events",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		events, err := db.ListEvents(context.Background(), store.EventType(statsEventType), statsLimit)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No events.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tENTITY\tSCOPE\tSOURCE\tTARGET")
		for _, e := range events {
			entity := "-"
			if e.EntityType != "" {
				entity = e.EntityType + ":" + e.EntityID
			}
			scope := "-"
			if e.ScopeType != "" {
				scope = e.ScopeType + ":" + e.ScopeID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type, entity, scope,
				snippet(e.SourceText, 30), snippet(e.TargetText, 30))
		}
		return w.Flush()
	},
}

func printStats(rows ...store.DailyStats) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DAY\tTM HITS\tGLOSSARY HITS\tMISSES\tTM RATE\tGLOSSARY RATE\tOVERWRITE RATE\tPROMOTIONS\tWRONG SUGGESTIONS")
	for _, s := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%.1f%%\t%.1f%%\t%d\t%d\n",
			s.Day, s.TMHits, s.GlossaryHits, s.Misses,
			s.TMHitRate*100, s.GlossaryHitRate*100, s.OverwriteRate*100,
			s.Promotions, s.WrongSuggestions)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.PersistentFlags().Uint64Var(&statsLimit, "limit", 30, "Maximum rows (0 = all)")
	statsRollupCmd.Flags().StringVar(&statsDay, "day", "", "UTC day as YYYY-MM-DD (default today)")
	statsEventsCmd.Flags().StringVar(&statsEventType, "type", "", "Filter by event type")

	statsCmd.AddCommand(statsListCmd)
	statsCmd.AddCommand(statsRollupCmd)
	statsCmd.AddCommand(statsEventsCmd)
}
