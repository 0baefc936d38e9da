package translator

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/postprocess"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "qwen2.5:7b"
)

type OllamaTranslator struct {
	baseURL string
	model   string
	client  *resty.Client
}

func NewOllamaTranslator(cfg ServiceConfig) *OllamaTranslator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	return &OllamaTranslator{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  newClient(cfg),
	}
}

func (s *OllamaTranslator) Name() string  { return "ollama" }
func (s *OllamaTranslator) Model() string { return s.model }

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (s *OllamaTranslator) generate(ctx context.Context, system, prompt string, jsonMode bool) (string, internal.Usage, error) {
	body := map[string]any{
		"model":   s.model,
		"prompt":  prompt,
		"stream":  false,
		"options": map[string]any{"temperature": 0},
	}
	if system != "" {
		body["system"] = system
	}
	if jsonMode {
		body["format"] = "json"
	}

	var resp ollamaResponse
	rr, err := s.client.R().SetContext(ctx).ForceContentType("application/json").
		SetBody(body).
		SetResult(&resp).
		Post(joinURL(s.baseURL, "/api/generate"))
	if err != nil {
		return "", internal.Usage{}, transportError(s.Name(), err)
	}
	if rr.IsError() {
		return "", internal.Usage{}, statusError(s.Name(), s.model, rr)
	}
	return resp.Response, internal.Usage{PromptTokens: resp.PromptEvalCount, CompletionTokens: resp.EvalCount}, nil
}

// Translate defaults to the framed format; small local models follow it
// more reliably than a JSON contract.
func (s *OllamaTranslator) Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error) {
	format := req.Format
	if format == "" {
		format = FormatFramed
	}
	content, usage, err := s.generate(ctx, req.System, req.User, format == FormatJSON)
	if err != nil {
		return nil, err
	}
	blocks, err := parse(format, content, req.Blocks)
	if err != nil {
		return &TranslateResult{Usage: usage, Model: s.model, Raw: content}, err
	}
	return &TranslateResult{Blocks: blocks, Usage: usage, Model: s.model, Raw: content}, nil
}

func (s *OllamaTranslator) Complete(ctx context.Context, prompt string) (string, error) {
	out, _, err := s.generate(ctx, "", prompt, false)
	return out, err
}

func (s *OllamaTranslator) TranslatePlain(ctx context.Context, prompt string) (string, error) {
	out, err := s.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return postprocess.Clean(out), nil
}

// IsAvailable checks that the Ollama daemon answers.
func (s *OllamaTranslator) IsAvailable(ctx context.Context) error {
	rr, err := s.client.R().SetContext(ctx).Get(joinURL(s.baseURL, "/api/tags"))
	if err != nil {
		return fmt.Errorf("ollama not available: %w", err)
	}
	if rr.IsError() {
		return fmt.Errorf("ollama returned status %d", rr.StatusCode())
	}
	return nil
}
