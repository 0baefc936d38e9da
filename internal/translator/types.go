package translator

import (
	"context"
	"time"

	"github.com/valpere/doctran/internal"
)

type ServiceConfig struct {
	Credentials string        `mapstructure:"credentials" json:"credentials"`
	APIKey      string        `mapstructure:"api_key" json:"api_key"`
	Model       string        `mapstructure:"model" json:"model"`
	BaseURL     string        `mapstructure:"base_url" json:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	ProjectID   string        `mapstructure:"project_id" json:"project_id"`
}

// Format is the response shape a provider is asked for.
type Format string

const (
	FormatJSON   Format = "json"
	FormatFramed Format = "framed"
)

// TranslateRequest carries one chunk. System and User are the rendered
// prompts; Blocks hold the (placeholder-wrapped) source texts the response
// is validated against.
type TranslateRequest struct {
	Blocks            []internal.Block
	TargetLang        string
	SourceLang        string
	Context           internal.RequestContext
	PreferredTerms    []internal.PreferredTerm
	PlaceholderTokens []string
	LanguageHint      string
	Mode              internal.Mode
	System            string
	User              string
	Format            Format
}

type TranslateResult struct {
	Blocks []internal.Block
	Usage  internal.Usage
	Model  string
	Raw    string
}

// Provider is the uniform adapter over translation backends.
type Provider interface {
	Name() string
	Model() string
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error)
	// Complete returns the raw model output for prompt.
	Complete(ctx context.Context, prompt string) (string, error)
	// TranslatePlain returns the model output for prompt with reasoning,
	// echoes and quoting stripped.
	TranslatePlain(ctx context.Context, prompt string) (string, error)
}

// Checker is implemented by providers that can report whether their backend answers.
type Checker interface {
	IsAvailable(ctx context.Context) error
}

type AsyncResult struct {
	Result *TranslateResult
	Err    error
}

// Go runs p.Translate in a goroutine. The channel receives exactly one value
// and is then closed.
func Go(ctx context.Context, p Provider, req TranslateRequest) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		defer close(ch)
		res, err := p.Translate(ctx, req)
		ch <- AsyncResult{Result: res, Err: err}
	}()
	return ch
}

func sourceTexts(blocks []internal.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.SourceText
	}
	return out
}
