package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/valpere/doctran/internal"
)

// ErrInvalidRequest wraps every request validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one translation call. Fields left empty fall back to the
// orchestrator configuration.
type Request struct {
	Blocks              []internal.Block `json:"blocks"`
	TargetLanguage      string           `json:"target_language" validate:"required"`
	SourceLanguage      string           `json:"source_language,omitempty"`
	Provider            string           `json:"provider,omitempty" validate:"omitempty,oneof=openai gemini ollama mock google"`
	Model               string           `json:"model,omitempty"`
	APIKey              string           `json:"api_key,omitempty"`
	BaseURL             string           `json:"base_url,omitempty" validate:"omitempty,url"`
	UseTM               *bool            `json:"use_tm,omitempty"`
	Tone                string           `json:"tone,omitempty"`
	VisionContext       bool             `json:"vision_context,omitempty"`
	Refresh             bool             `json:"refresh,omitempty"`
	CompletedIDs        []string         `json:"completed_ids,omitempty"`
	SimilarityThreshold float64          `json:"similarity_threshold,omitempty" validate:"gte=0,lte=1"`
	ScopeType           string           `json:"scope_type,omitempty"`
	ScopeID             string           `json:"scope_id,omitempty"`
	Domain              string           `json:"domain,omitempty"`
	Category            string           `json:"category,omitempty"`
	Mode                internal.Mode    `json:"mode,omitempty" validate:"omitempty,oneof=direct bilingual correction"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for i, b := range r.Blocks {
		if !b.BlockType.Valid() {
			return fmt.Errorf("%w: block %d: unknown block_type %q", ErrInvalidRequest, i, b.BlockType)
		}
		if b.Mode != "" && !b.Mode.Valid() {
			return fmt.Errorf("%w: block %d: unknown mode %q", ErrInvalidRequest, i, b.Mode)
		}
	}
	return nil
}

// Stats counts what happened to the blocks of one request.
type Stats struct {
	Blocks        int `json:"blocks"`
	Empty         int `json:"empty"`
	Preserved     int `json:"preserved"`
	Aligned       int `json:"aligned"`
	Resumed       int `json:"resumed"`
	CacheHits     int `json:"cache_hits"`
	GlossaryHits  int `json:"glossary_hits"`
	TMHits        int `json:"tm_hits"`
	Pending       int `json:"pending"`
	Deduplicated  int `json:"deduplicated"`
	Chunks        int `json:"chunks"`
	ProviderCalls int `json:"provider_calls"`
	Retries       int `json:"retries"`
	GuardRetries  int `json:"guard_retries"`
	Fallbacks     int `json:"fallbacks"`
	Persisted     int `json:"persisted"`
}

// Result is the outcome of a successful request.
type Result struct {
	RequestID string            `json:"request_id"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Contract  internal.Contract `json:"result"`
	Stats     Stats             `json:"stats"`
	Usage     internal.Usage    `json:"usage"`
}

func isAuto(lang string) bool {
	lang = strings.TrimSpace(lang)
	return lang == "" || strings.EqualFold(lang, "auto")
}
