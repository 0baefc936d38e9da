package translator

import (
	"strings"

	"github.com/valpere/doctran/internal/apperr"
)

// Providers lists the backends New can build.
var Providers = []string{"openai", "gemini", "ollama", "mock", "google"}

// New builds the provider named name.
func New(name string, cfg ServiceConfig) (Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return NewOpenAIService(cfg), nil
	case "gemini":
		return NewGeminiService(cfg), nil
	case "ollama":
		return NewOllamaTranslator(cfg), nil
	case "google":
		return NewGoogleService(cfg), nil
	case "mock", "":
		return NewMockService(), nil
	}
	return nil, apperr.New(apperr.KindConfig, "unknown provider %q", name)
}

// HasCredentials reports whether cfg carries what the provider needs to
// authenticate. Local and identity providers need nothing.
func HasCredentials(name string, cfg ServiceConfig) bool {
	switch strings.ToLower(name) {
	case "openai", "gemini":
		return cfg.APIKey != ""
	case "google":
		return cfg.APIKey != "" || cfg.Credentials != ""
	}
	return true
}
