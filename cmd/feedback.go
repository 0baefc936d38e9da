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

	"github.com/spf13/cobra"

	"github.com/valpere/doctran/internal/learning"
)

var (
	feedbackSource string
	feedbackTarget string
	feedbackFrom   string
	feedbackTo     string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record user corrections",
}

var feedbackRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a user correction of a term",
	Long: `Record that a user corrected the translation of a source term.

Corrections are counted per pair. Once a pair reaches the promotion
threshold it is written to the glossary at promotion priority and used
for exact matches from then on.

Example:
  doctran feedback record --source en --target zh-TW --from "quarterly report" --to 季度報告`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if feedbackSource == "" || feedbackTarget == "" || feedbackFrom == "" || feedbackTo == "" {
			return fmt.Errorf("--source, --target, --from and --to are required")
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		fb, err := learning.New(db, nil).RecordTermFeedback(context.Background(),
			feedbackFrom, feedbackTo, feedbackSource, feedbackTarget)
		if err != nil {
			return fmt.Errorf("failed to record feedback: %w", err)
		}
		fmt.Printf("Recorded correction %d of %q → %q\n", fb.Count, feedbackFrom, feedbackTo)
		if fb.Promoted {
			fmt.Printf("Promoted to glossary entry %d\n", fb.GlossaryID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)

	feedbackRecordCmd.Flags().StringVarP(&feedbackSource, "source", "s", "", "Source language code (required)")
	feedbackRecordCmd.Flags().StringVarP(&feedbackTarget, "target", "t", "", "Target language code (required)")
	feedbackRecordCmd.Flags().StringVar(&feedbackFrom, "from", "", "Source term (required)")
	feedbackRecordCmd.Flags().StringVar(&feedbackTo, "to", "", "Corrected translation (required)")

	feedbackCmd.AddCommand(feedbackRecordCmd)
}
