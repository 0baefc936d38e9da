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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/doctran/internal/learning"
	"github.com/valpere/doctran/internal/store"
)

var tmCmd = &cobra.Command{
	Use:   "tm",
	Short: "Manage the translation memory",
	Long: `List, correct, and delete translation memory entries.

Translation memory keeps every accepted translation keyed by language
pair, source text and request context. Corrections made with "tm override"
count toward promoting the pair into the glossary.

Example:
  doctran tm list --target zh-TW --limit 20
  doctran tm override 42 "季度報告"`,
}

var (
	tmListSource string
	tmListTarget string
	tmScopeType  string
	tmScopeID    string
	tmLimit      uint64
)

var tmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List translation memory entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		entries, err := db.ListTM(ctx, store.TMFilter{
			SourceLang: tmListSource,
			TargetLang: tmListTarget,
			ScopeType:  tmScopeType,
			ScopeID:    tmScopeID,
			Limit:      tmLimit,
		})
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No entries in translation memory.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tTARGET\tSTATE\tHITS\tOVERWRITES\tCATEGORIES\tTEXT\tTRANSLATION")
		for _, e := range entries {
			cats, err := db.TMCategories(ctx, e.ID)
			if err != nil {
				return fmt.Errorf("failed to load categories: %w", err)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
				e.ID, e.SourceLang, e.TargetLang, e.State(), e.HitCount, e.OverwriteCount,
				strings.Join(cats, ","), snippet(e.SourceText, 40), snippet(e.TargetText, 40))
		}
		return w.Flush()
	},
}

var tmOverrideCmd = &cobra.Command{
	Use:   "override <id> <translation>",
	Short: "Replace the translation of an entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		rec := learning.New(db, nil)
		e, fb, err := rec.RecordOverride(context.Background(), id, args[1])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no translation memory entry %d", id)
		}
		if err != nil {
			return fmt.Errorf("failed to override entry: %w", err)
		}
		fmt.Printf("Entry %d: %q → %q (corrected %d times)\n", e.ID, snippet(e.SourceText, 40), e.TargetText, fb.Count)
		if fb.Promoted {
			fmt.Printf("Promoted to glossary entry %d\n", fb.GlossaryID)
		}
		return nil
	},
}

var tmDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a translation memory entry by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteTM(context.Background(), id); err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		fmt.Printf("Deleted entry: %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tmCmd)

	tmListCmd.Flags().StringVarP(&tmListSource, "source", "s", "", "Filter by source language")
	tmListCmd.Flags().StringVarP(&tmListTarget, "target", "t", "", "Filter by target language")
	tmListCmd.Flags().StringVar(&tmScopeType, "scope-type", "", "Filter by scope type")
	tmListCmd.Flags().StringVar(&tmScopeID, "scope-id", "", "Filter by scope id")
	tmListCmd.Flags().Uint64Var(&tmLimit, "limit", 50, "Maximum rows (0 = all)")

	tmCmd.AddCommand(tmListCmd)
	tmCmd.AddCommand(tmOverrideCmd)
	tmCmd.AddCommand(tmDeleteCmd)
}
