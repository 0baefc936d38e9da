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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/orchestrator"
	"github.com/valpere/doctran/internal/progress"
)

var (
	inputFile    string
	outputFile   string
	targetLang   string
	modelName    string
	modeName     string
	tone         string
	scopeType    string
	scopeID      string
	streamEvents bool
	refresh      bool
	noTM         bool
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a JSON block contract",
	Long: `Translate the blocks of a JSON contract file with the configured provider.

The input is a request object ({"blocks": [...], "target_language": ...})
or a bare contract ({"blocks": [...]}) with --target. Cached, glossary and
translation-memory hits are served without a provider call.

With --stream, progress events are written to stdout as server-sent
events while chunks complete; the result goes to --output if given.

Example:
  doctran translate -i deck.json -t zh-TW -o deck.zh.json
  doctran translate -i deck.json -t vi --provider gemini --mode bilingual --stream`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputFile != "" && outputFile != "-" && inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		req, err := readRequest(inputFile)
		if err != nil {
			return err
		}
		if targetLang != "" {
			req.TargetLanguage = targetLang
		}
		if req.TargetLanguage == "" {
			return fmt.Errorf("target language is required (--target or target_language)")
		}
		if modelName != "" {
			req.Model = modelName
		}
		if modeName != "" {
			req.Mode = internal.Mode(modeName)
		}
		if tone != "" {
			req.Tone = tone
		}
		if scopeType != "" {
			req.ScopeType, req.ScopeID = scopeType, scopeID
		}
		if refresh {
			req.Refresh = true
		}
		if noTM {
			off := false
			req.UseTM = &off
		}

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := buildServices(cfg, logger)
		if err != nil {
			return err
		}
		defer svc.db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var res *orchestrator.Result
		if streamEvents {
			res, err = translateStreaming(ctx, svc.orch, req, os.Stdout)
		} else {
			res, err = svc.orch.Translate(ctx, req)
		}
		if err != nil {
			return fmt.Errorf("translation failed: %w", err)
		}

		fmt.Fprintf(os.Stderr, "Translated %d blocks with %s/%s: %d cache, %d glossary, %d tm hits, %d provider calls\n",
			res.Stats.Blocks, res.Provider, res.Model,
			res.Stats.CacheHits, res.Stats.GlossaryHits, res.Stats.TMHits, res.Stats.ProviderCalls)

		if streamEvents && (outputFile == "" || outputFile == "-") {
			return nil
		}
		return writeResult(outputFile, res)
	},
}

// readRequest decodes a request from path, or stdin when path is "-".
func readRequest(path string) (orchestrator.Request, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return orchestrator.Request{}, fmt.Errorf("failed to read input file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var req orchestrator.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return orchestrator.Request{}, fmt.Errorf("failed to decode input: %w", err)
	}
	return req, nil
}

// translateStreaming runs the request concurrently and writes its events
// to w as they arrive.
func translateStreaming(ctx context.Context, o *orchestrator.Orchestrator, req orchestrator.Request, w io.Writer) (*orchestrator.Result, error) {
	stream := progress.NewStream(0)
	type outcome struct {
		res *orchestrator.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.TranslateStream(ctx, req, stream)
		done <- outcome{res, err}
	}()
	if err := progress.Pump(ctx, stream, w); err != nil {
		return nil, fmt.Errorf("failed to write events: %w", err)
	}
	out := <-done
	return out.res, out.err
}

func writeResult(path string, res *orchestrator.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	data = append(data, '\n')
	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Result written to %s\n", path)
	return nil
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input JSON file, - for stdin (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for the result (default stdout)")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language code")
	translateCmd.Flags().StringP("source-language", "s", "auto", "Source language code")
	translateCmd.Flags().StringP("provider", "p", "mock", "Provider: openai, gemini, ollama, google, mock")
	translateCmd.Flags().StringVar(&modelName, "model", "", "Model override for the provider")
	translateCmd.Flags().StringVar(&modeName, "mode", "", "Output mode: direct, bilingual, correction")
	translateCmd.Flags().StringVar(&tone, "tone", "", "Tone hint, e.g. formal")
	translateCmd.Flags().StringVar(&scopeType, "scope-type", "", "Glossary and TM scope type")
	translateCmd.Flags().StringVar(&scopeID, "scope-id", "", "Glossary and TM scope id")
	translateCmd.Flags().BoolVar(&streamEvents, "stream", false, "Write progress events to stdout")
	translateCmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore cache, glossary and TM hits")
	translateCmd.Flags().BoolVar(&noTM, "no-tm", false, "Do not read or write translation memory")

	translateCmd.Flags().Int("chunk-size", 0, "Blocks per provider call (0 = provider default)")
	translateCmd.Flags().Int("max-concurrency", 5, "Concurrent chunks when streaming")
	translateCmd.Flags().Int("max-retries", 3, "Retries per chunk on transient errors")
	translateCmd.Flags().String("context-strategy", "neighbor", "Context strategy: none, neighbor, title-only, deck")
	translateCmd.Flags().Bool("fallback-on-error", true, "Return source text when a chunk cannot be translated")

	translateCmd.MarkFlagRequired("input")
}
