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
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/apperr"
	"github.com/valpere/doctran/internal/prompt"
	"github.com/valpere/doctran/internal/store"
	"github.com/valpere/doctran/internal/terms"
	"github.com/valpere/doctran/internal/translator"
)

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Manage the terminology glossary",
	Long: `Add, list, and delete terminology glossary entries.

Glossary entries ensure that specific source terms are always translated
to the same target term. An exact glossary match is served without a
provider call; entries relevant to a chunk are also sent to the provider
as preferred terms.

Example:
  doctran glossary add --source en --target zh-TW --from "quarterly report" --to 季度報告
  doctran glossary list --target zh-TW
  doctran glossary extract -i deck.json -s en -t zh-TW -p openai --dry-run`,
}

var (
	glossaryListSource string
	glossaryListTarget string
	glossaryScopeType  string
	glossaryScopeID    string
	glossaryLimit      uint64
)

var glossaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List glossary entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		// Empty flags list everything.
		entries, err := db.ListGlossary(context.Background(), store.GlossaryFilter{
			SourceLang: glossaryListSource,
			TargetLang: glossaryListTarget,
			ScopeType:  glossaryScopeType,
			ScopeID:    glossaryScopeID,
			Limit:      glossaryLimit,
		})
		if err != nil {
			return fmt.Errorf("failed to list glossary: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("Glossary is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE LANG\tTARGET LANG\tSOURCE TERM\tTARGET TERM\tPRIORITY\tORIGIN\tHITS\tSCOPE")
		for _, e := range entries {
			scope := "-"
			if e.ScopeType != "" {
				scope = e.ScopeType + ":" + e.ScopeID
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
				e.ID, e.SourceLang, e.TargetLang, e.SourceText, e.TargetText,
				e.Priority, e.Origin, e.HitCount, scope)
		}
		return w.Flush()
	},
}

var (
	glossaryAddSource   string
	glossaryAddTarget   string
	glossaryAddFrom     string
	glossaryAddTo       string
	glossaryAddPriority int
)

var glossaryAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update a glossary entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if glossaryAddSource == "" || glossaryAddTarget == "" || glossaryAddFrom == "" || glossaryAddTo == "" {
			return fmt.Errorf("--source, --target, --from and --to are required")
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.UpsertGlossary(context.Background(), store.GlossaryEntry{
			SourceLang: glossaryAddSource,
			TargetLang: glossaryAddTarget,
			SourceText: glossaryAddFrom,
			TargetText: glossaryAddTo,
			ScopeType:  glossaryScopeType,
			ScopeID:    glossaryScopeID,
			Priority:   glossaryAddPriority,
		})
		if err != nil {
			return fmt.Errorf("failed to add glossary entry: %w", err)
		}
		fmt.Printf("Glossary entry %d: %q → %q (%s → %s)\n",
			id, glossaryAddFrom, glossaryAddTo, glossaryAddSource, glossaryAddTarget)
		return nil
	},
}

var glossaryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a glossary entry by ID",
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

		if err := db.DeleteGlossary(context.Background(), id); err != nil {
			return fmt.Errorf("failed to delete glossary entry: %w", err)
		}
		fmt.Printf("Deleted glossary entry: %d\n", id)
		return nil
	},
}

// extractMaxRunes bounds the document text sent in one extraction prompt.
const extractMaxRunes = 12000

var (
	extractInput    string
	extractSource   string
	extractTarget   string
	extractModel    string
	extractLimit    int
	extractPriority int
	extractDryRun   bool
)

var glossaryExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Propose glossary entries for a document with the provider",
	Long: `Ask the provider for domain terms in a translation request file and
their translations, then add them to the glossary with origin "extract".

Terms already in the glossary are shown to the model so it does not
repeat them. Preserve terms are never added.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if extractSource == "" || extractTarget == "" {
			return fmt.Errorf("--source and --target are required")
		}
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		req, err := readRequest(extractInput)
		if err != nil {
			return err
		}
		text := documentText(req.Blocks)
		if text == "" {
			return fmt.Errorf("input has no source text")
		}

		if cfg.Provider == "mock" {
			return apperr.New(apperr.KindConfig, "glossary extraction needs a model provider, set --provider")
		}
		svc := cfg.Service(cfg.Provider)
		if extractModel != "" {
			svc.Model = extractModel
		}
		if !translator.HasCredentials(cfg.Provider, svc) {
			return apperr.New(apperr.KindConfig, "provider %s has no credentials configured", cfg.Provider)
		}
		provider, err := translator.New(cfg.Provider, svc)
		if err != nil {
			return err
		}

		db, err := store.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		ctx := context.Background()
		existing, err := db.ListGlossary(ctx, store.GlossaryFilter{
			SourceLang: extractSource,
			TargetLang: extractTarget,
			ScopeType:  glossaryScopeType,
			ScopeID:    glossaryScopeID,
			Limit:      200,
		})
		if err != nil {
			return fmt.Errorf("failed to list glossary: %w", err)
		}

		p, err := prompt.New(cfg.PromptsDir, logger).BuildExtract(prompt.ExtractInput{
			SourceLang: extractSource,
			TargetLang: extractTarget,
			Text:       text,
			Limit:      extractLimit,
			Known:      terms.Known(existing),
		})
		if err != nil {
			return fmt.Errorf("failed to build prompt: %w", err)
		}
		logger.Info("extracting glossary candidates", "provider", provider.Name(), "model", provider.Model(), "chars", len(text))
		cands, err := terms.Extract(ctx, provider, p)
		if err != nil {
			return fmt.Errorf("failed to extract terms: %w", err)
		}
		if len(cands) > extractLimit {
			cands = cands[:extractLimit]
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE TERM\tTARGET TERM")
		for _, c := range cands {
			fmt.Fprintf(w, "%s\t%s\n", c.Source, c.Target)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if extractDryRun {
			fmt.Printf("%d candidates (dry run, nothing saved)\n", len(cands))
			return nil
		}

		res, err := terms.Save(ctx, db, extractSource, extractTarget,
			terms.Scope{Type: glossaryScopeType, ID: glossaryScopeID}, extractPriority, cands)
		if err != nil {
			return fmt.Errorf("failed to save glossary entries: %w", err)
		}
		fmt.Printf("Added %d glossary entries, skipped %d preserve terms\n", res.Added, res.Preserved)
		return nil
	},
}

// documentText joins the distinct source texts of blocks, cut to
// extractMaxRunes.
func documentText(blocks []internal.Block) string {
	seen := map[string]bool{}
	var lines []string
	for _, b := range blocks {
		t := strings.TrimSpace(b.SourceText)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		lines = append(lines, t)
	}
	text := []rune(strings.Join(lines, "\n"))
	if len(text) > extractMaxRunes {
		text = text[:extractMaxRunes]
	}
	return string(text)
}

func init() {
	rootCmd.AddCommand(glossaryCmd)

	glossaryCmd.PersistentFlags().StringVar(&glossaryScopeType, "scope-type", "", "Scope type (empty = global)")
	glossaryCmd.PersistentFlags().StringVar(&glossaryScopeID, "scope-id", "", "Scope id")

	glossaryListCmd.Flags().StringVarP(&glossaryListSource, "source", "s", "", "Filter by source language")
	glossaryListCmd.Flags().StringVarP(&glossaryListTarget, "target", "t", "", "Filter by target language")
	glossaryListCmd.Flags().Uint64Var(&glossaryLimit, "limit", 0, "Maximum rows (0 = all)")

	glossaryAddCmd.Flags().StringVarP(&glossaryAddSource, "source", "s", "", "Source language code (required)")
	glossaryAddCmd.Flags().StringVarP(&glossaryAddTarget, "target", "t", "", "Target language code (required)")
	glossaryAddCmd.Flags().StringVar(&glossaryAddFrom, "from", "", "Source term (required)")
	glossaryAddCmd.Flags().StringVar(&glossaryAddTo, "to", "", "Target term (required)")
	glossaryAddCmd.Flags().IntVar(&glossaryAddPriority, "priority", store.DefaultGlossaryPriority, "Priority; higher wins")

	glossaryCmd.AddCommand(glossaryListCmd)
	glossaryCmd.AddCommand(glossaryAddCmd)
	glossaryExtractCmd.Flags().StringVarP(&extractInput, "input", "i", "", "Translation request JSON file, - for stdin (required)")
	glossaryExtractCmd.Flags().StringVarP(&extractSource, "source", "s", "", "Source language code (required)")
	glossaryExtractCmd.Flags().StringVarP(&extractTarget, "target", "t", "", "Target language code (required)")
	glossaryExtractCmd.Flags().StringP("provider", "p", "mock", "Provider: openai, gemini, ollama, google")
	glossaryExtractCmd.Flags().StringVar(&extractModel, "model", "", "Model override for the provider")
	glossaryExtractCmd.Flags().IntVar(&extractLimit, "limit", 30, "Maximum terms to propose")
	glossaryExtractCmd.Flags().IntVar(&extractPriority, "priority", store.DefaultGlossaryPriority, "Priority of added entries")
	glossaryExtractCmd.Flags().BoolVar(&extractDryRun, "dry-run", false, "Print candidates without saving them")
	glossaryExtractCmd.MarkFlagRequired("input")

	glossaryCmd.AddCommand(glossaryDeleteCmd)
	glossaryCmd.AddCommand(glossaryExtractCmd)
}
