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
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/doctran/internal/store"
	"github.com/valpere/doctran/internal/terms"
)

var termCmd = &cobra.Command{
	Use:   "term",
	Short: "Manage the multilingual term repository",
	Long: `Set, list, and inspect unified terms.

A unified term holds one value per language. Every write is versioned and
projected into the glossary as one entry per ordered language pair.

Example:
  doctran term set "quarterly report" --value en="quarterly report" --value zh-TW=季度報告 --value vi="báo cáo quý"
  doctran term history 3`,
}

var (
	termValues   []string
	termAliases  []string
	termCategory string
	termPriority int
	termLang     string
)

var termSetCmd = &cobra.Command{
	Use:   "set <term>",
	Short: "Create or update a term",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values := map[string]string{}
		for _, kv := range termValues {
			lang, value, ok := strings.Cut(kv, "=")
			if !ok || lang == "" || value == "" {
				return fmt.Errorf("invalid --value %q, want lang=text", kv)
			}
			values[lang] = value
		}
		if len(values) == 0 {
			return fmt.Errorf("at least one --value is required")
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		terms.NewGlossaryProjection(db).Attach(db)

		t, err := db.UpsertTerm(context.Background(), store.UnifiedTerm{
			Term:     args[0],
			Category: termCategory,
			Priority: termPriority,
			Values:   values,
			Aliases:  termAliases,
		})
		if err != nil {
			return fmt.Errorf("failed to save term: %w", err)
		}
		fmt.Printf("Term %d %q saved as version %d (%d languages)\n", t.ID, t.Term, t.Version, len(t.Values))
		return nil
	},
}

var termListCmd = &cobra.Command{
	Use:   "list",
	Short: "List terms",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		list, err := db.ListUnifiedTerms(context.Background(), termLang)
		if err != nil {
			return fmt.Errorf("failed to list terms: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No terms.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTERM\tCATEGORY\tPRIORITY\tVALUES")
		for _, t := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", t.ID, t.Term, t.Category, t.Priority, formatValues(t.Values))
		}
		return w.Flush()
	},
}

var termHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the versions of a term",
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

		versions, err := db.TermVersions(context.Background(), id)
		if err != nil {
			return fmt.Errorf("failed to load versions: %w", err)
		}
		if len(versions) == 0 {
			return fmt.Errorf("no term %d", id)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tTERM\tPRIORITY\tVALUES")
		for _, v := range versions {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", v.Version, v.Term, v.Priority, formatValues(v.Values))
		}
		return w.Flush()
	},
}

func formatValues(values map[string]string) string {
	langs := make([]string, 0, len(values))
	for l := range values {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	parts := make([]string, len(langs))
	for i, l := range langs {
		parts[i] = l + "=" + values[l]
	}
	return strings.Join(parts, "; ")
}

func init() {
	rootCmd.AddCommand(termCmd)

	termSetCmd.Flags().StringArrayVar(&termValues, "value", nil, "Language value as lang=text (repeatable)")
	termSetCmd.Flags().StringSliceVar(&termAliases, "alias", nil, "Alternative spellings")
	termSetCmd.Flags().StringVar(&termCategory, "category", "", "Category label")
	termSetCmd.Flags().IntVar(&termPriority, "priority", store.DefaultGlossaryPriority, "Priority; higher wins")

	termListCmd.Flags().StringVar(&termLang, "lang", "", "Only terms with a value in this language")

	termCmd.AddCommand(termSetCmd)
	termCmd.AddCommand(termListCmd)
	termCmd.AddCommand(termHistoryCmd)
}
