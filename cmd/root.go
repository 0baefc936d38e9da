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
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/doctran/internal/config"
	"github.com/valpere/doctran/internal/logging"
	"github.com/valpere/doctran/internal/store"
)

var version = "0.3.0"

var (
	configFile string
	dbPath     string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "doctran",
	Short: "LLM document translation orchestrator",
	Long: `Translates the text blocks of presentation and document contracts with
an LLM provider, backed by a translation cache, translation memory,
glossary and preserve-term lists in SQLite.

Supported providers: openai, gemini, ollama, google, mock

Configuration is read from --config, then DOCTRAN_* environment
variables, then flags.

Use "doctran translate --help" for translation options.
Use "doctran serve --help" to run the HTTP API.`,
	Version:      version,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "./data/doctran.db", "Database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
}

// loadConfig resolves the configuration for cmd and builds the logger it
// describes. Diagnostics go to stderr so stdout stays machine-readable.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	db, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
