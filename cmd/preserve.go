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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/doctran/internal/store"
)

var preserveCmd = &cobra.Command{
	Use:   "preserve",
	Short: "Manage terms that are never translated",
	Long: `Add, list, and delete preserve terms.

A block whose whole text is a preserve term is returned unchanged. Inside
longer text, preserve terms are protected from translation.

Example:
  doctran preserve add Kubernetes --category product
  doctran preserve add iOS --case-sensitive`,
}

var (
	preserveCategory      string
	preserveCaseSensitive bool
)

var preserveAddCmd = &cobra.Command{
	Use:   "add <term>",
	Short: "Add a preserve term",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.AddPreserveTerm(context.Background(), args[0], preserveCategory, preserveCaseSensitive)
		if err != nil {
			return fmt.Errorf("failed to add preserve term: %w", err)
		}
		fmt.Printf("Preserve term %d: %q\n", id, args[0])
		return nil
	},
}

var preserveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List preserve terms",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		list, err := db.ListPreserveTerms(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list preserve terms: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No preserve terms.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTERM\tCATEGORY\tCASE SENSITIVE")
		for _, p := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", p.ID, p.Term, p.Category, p.CaseSensitive)
		}
		return w.Flush()
	},
}

var preserveDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a preserve term by ID",
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

		err = db.DeletePreserveTerm(context.Background(), id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no preserve term %d", id)
		}
		if err != nil {
			return fmt.Errorf("failed to delete preserve term: %w", err)
		}
		fmt.Printf("Deleted preserve term: %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(preserveCmd)

	preserveAddCmd.Flags().StringVar(&preserveCategory, "category", "", "Category label")
	preserveAddCmd.Flags().BoolVar(&preserveCaseSensitive, "case-sensitive", false, "Match case exactly")

	preserveCmd.AddCommand(preserveAddCmd)
	preserveCmd.AddCommand(preserveListCmd)
	preserveCmd.AddCommand(preserveDeleteCmd)
}
