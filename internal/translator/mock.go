package translator

import (
	"context"

	"github.com/valpere/doctran/internal"
)

// MockService is the identity translator: every block comes back with its
// source text. It also serves as the fallback when a provider fails.
type MockService struct{}

func NewMockService() *MockService { return &MockService{} }

func (MockService) Name() string  { return "mock" }
func (MockService) Model() string { return "identity" }

func (MockService) Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &TranslateResult{Blocks: Identity(req.Blocks), Model: "identity"}, nil
}

func (MockService) Complete(ctx context.Context, prompt string) (string, error) {
	return prompt, ctx.Err()
}

func (MockService) TranslatePlain(ctx context.Context, prompt string) (string, error) {
	return prompt, ctx.Err()
}

// Identity copies blocks with translated_text set to the source text.
func Identity(blocks []internal.Block) []internal.Block {
	out := make([]internal.Block, len(blocks))
	for i, b := range blocks {
		b.TranslatedText = b.SourceText
		out[i] = b
	}
	return out
}
