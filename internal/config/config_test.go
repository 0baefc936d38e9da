package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mock", cfg.Provider)
	assert.Equal(t, 5, cfg.MaxConcurrency)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 10*time.Second, cfg.RetryMaxBackoff)
	assert.Equal(t, "neighbor", cfg.ContextStrategy)
	assert.True(t, cfg.FallbackOnError)
	assert.Equal(t, "auto", cfg.SourceLanguage)
	assert.Equal(t, "levenshtein", cfg.FuzzyMetric)
	assert.Equal(t, 120*time.Second, cfg.OpenAI.Timeout)
	assert.Equal(t, "gpt-4o-mini", cfg.Service("openai").Model)
	assert.Empty(t, cfg.Service("mock").Model)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "doctran.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
provider: gemini
chunk_size: 12
gemini:
  model: gemini-1.5-pro
log:
  level: debug
`), 0o644))

	t.Setenv("DOCTRAN_GEMINI_API_KEY", "env-key")
	t.Setenv("DOCTRAN_CHUNK_SIZE", "20")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("max-concurrency", 5, "")
	flags.String("unrelated", "", "")
	require.NoError(t, flags.Parse([]string{"--max-concurrency=2", "--unrelated=x"}))

	cfg, err := Load(file, flags)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Equal(t, "gemini-1.5-pro", cfg.Gemini.Model)
	assert.Equal(t, "env-key", cfg.Service("gemini").APIKey)
	assert.Equal(t, 20, cfg.ChunkSize, "environment overrides the file")
	assert.Equal(t, 2, cfg.MaxConcurrency, "flags override everything")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"DOCTRAN_PROVIDER":         "systran",
		"DOCTRAN_CONTEXT_STRATEGY": "everything",
		"DOCTRAN_MAX_CONCURRENCY":  "0",
		"DOCTRAN_LOG_FORMAT":       "xml",
	}
	for env, val := range tests {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			_, err := Load("", nil)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_SectionAndSliceFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("server-addr", ":8080", "")
	flags.StringSlice("server-allow-origins", []string{"*"}, "")
	flags.String("stats-rollup-interval", "1h", "")
	flags.String("db-path", "", "")
	require.NoError(t, flags.Parse([]string{
		"--log-level=warn",
		"--server-addr=127.0.0.1:9090",
		"--server-allow-origins=https://a.example,https://b.example",
		"--stats-rollup-interval=15m",
	}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowOrigins)
	assert.Equal(t, 15*time.Minute, cfg.Stats.RollupInterval)
	assert.Equal(t, "./data/doctran.db", cfg.DBPath, "unchanged flags keep the default")
}
