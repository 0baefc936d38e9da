// Package config loads the validated runtime configuration.
//
// Values are resolved from, in increasing precedence: built-in defaults, an
// optional config file, DOCTRAN_* environment variables and changed
// command-line flags. The result is a plain value; components receive a
// copy at construction and never read the environment themselves.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/valpere/doctran/internal/translator"
)

const EnvPrefix = "DOCTRAN"

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
}

type StatsConfig struct {
	RollupInterval time.Duration `mapstructure:"rollup_interval" validate:"gte=0"`
}

type Config struct {
	Provider string                   `mapstructure:"provider" validate:"oneof=openai gemini ollama mock google"`
	OpenAI   translator.ServiceConfig `mapstructure:"openai"`
	Gemini   translator.ServiceConfig `mapstructure:"gemini"`
	Ollama   translator.ServiceConfig `mapstructure:"ollama"`
	Google   translator.ServiceConfig `mapstructure:"google"`

	ChunkSize       int           `mapstructure:"chunk_size" validate:"gte=0"`
	SingleRequest   bool          `mapstructure:"single_request"`
	ChunkDelay      time.Duration `mapstructure:"chunk_delay" validate:"gte=0"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff" validate:"gtefield=RetryBackoff"`
	RetryJitter     time.Duration `mapstructure:"retry_jitter" validate:"gte=0"`

	ContextStrategy string        `mapstructure:"context_strategy" validate:"oneof=none neighbor title-only deck"`
	FallbackOnError bool          `mapstructure:"fallback_on_error"`
	SourceLanguage  string        `mapstructure:"source_language" validate:"required"`
	MaxConcurrency  int           `mapstructure:"max_concurrency" validate:"gte=1,lte=64"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	DBPath              string  `mapstructure:"db_path" validate:"required"`
	PromptsDir          string  `mapstructure:"prompts_dir"`
	UseTM               bool    `mapstructure:"use_tm"`
	FuzzyTM             bool    `mapstructure:"fuzzy_tm"`
	FuzzyMetric         string  `mapstructure:"fuzzy_metric" validate:"oneof=levenshtein trigram"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" validate:"gte=0,lte=1"`

	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
	Stats  StatsConfig  `mapstructure:"stats"`
}

// Service returns the adapter settings for a provider.
func (c Config) Service(provider string) translator.ServiceConfig {
	switch strings.ToLower(provider) {
	case "openai":
		return c.OpenAI
	case "gemini":
		return c.Gemini
	case "ollama":
		return c.Ollama
	case "google":
		return c.Google
	}
	return translator.ServiceConfig{}
}

var defaults = map[string]any{
	"provider":              "mock",
	"openai.api_key":        "",
	"openai.model":          translator.DefaultOpenAIModel,
	"openai.base_url":       translator.DefaultOpenAIBaseURL,
	"openai.timeout":        "120s",
	"gemini.api_key":        "",
	"gemini.model":          translator.DefaultGeminiModel,
	"gemini.base_url":       translator.DefaultGeminiBaseURL,
	"gemini.timeout":        "120s",
	"ollama.model":          translator.DefaultOllamaModel,
	"ollama.base_url":       translator.DefaultOllamaBaseURL,
	"ollama.timeout":        "300s",
	"google.api_key":        "",
	"google.credentials":    "",
	"google.project_id":     "",
	"google.timeout":        "60s",
	"chunk_size":            0,
	"single_request":        false,
	"chunk_delay":           "0s",
	"max_retries":           3,
	"retry_backoff":         "1s",
	"retry_max_backoff":     "10s",
	"retry_jitter":          "500ms",
	"context_strategy":      "neighbor",
	"fallback_on_error":     true,
	"source_language":       "auto",
	"max_concurrency":       5,
	"request_timeout":       "180s",
	"db_path":               "./data/doctran.db",
	"prompts_dir":           "",
	"use_tm":                true,
	"fuzzy_tm":              false,
	"fuzzy_metric":          "levenshtein",
	"similarity_threshold":  0.9,
	"log.level":             "info",
	"log.format":            "text",
	"server.addr":           ":8080",
	"server.allow_origins":  []string{"*"},
	"server.read_timeout":   "30s",
	"stats.rollup_interval": "1h",
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration built from defaults alone.
func Default() Config {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load resolves the configuration. file may be empty. Flags whose names
// match configuration keys (with '-' for '_', e.g. --chunk-size, or for the
// section dot, e.g. --log-level) override every other source when set.
func Load(file string, flags *pflag.FlagSet) (Config, error) {
	v := newViper()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	if flags != nil {
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := defaults[key]; !known {
				// --log-level sets log.level
				key = strings.ReplaceAll(strings.Replace(f.Name, "-", ".", 1), "-", "_")
			}
			if _, known := defaults[key]; !known || !f.Changed {
				return
			}
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				v.Set(key, sv.GetSlice())
				return
			}
			v.Set(key, f.Value.String())
		})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
