package translator

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/apperr"
	"github.com/valpere/doctran/internal/postprocess"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.0-flash"
)

type GeminiService struct {
	apiKey  string
	baseURL string
	model   string
	client  *resty.Client
}

func NewGeminiService(cfg ServiceConfig) *GeminiService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	return &GeminiService{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  newClient(cfg),
	}
}

func (s *GeminiService) Name() string  { return "gemini" }
func (s *GeminiService) Model() string { return s.model }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (s *GeminiService) generate(ctx context.Context, system, user string, jsonMode bool) (string, internal.Usage, error) {
	if s.apiKey == "" {
		return "", internal.Usage{}, apperr.New(apperr.KindConfig, "gemini api key required")
	}
	genCfg := map[string]any{"temperature": 0}
	if jsonMode {
		genCfg["responseMimeType"] = "application/json"
	}
	body := map[string]any{
		"contents":         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: user}}}},
		"generationConfig": genCfg,
	}
	if system != "" {
		body["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	var resp geminiResponse
	rr, err := s.client.R().SetContext(ctx).ForceContentType("application/json").
		SetHeader("x-goog-api-key", s.apiKey).
		SetBody(body).
		SetResult(&resp).
		Post(joinURL(s.baseURL, "/v1beta/models/"+s.model+":generateContent"))
	if err != nil {
		return "", internal.Usage{}, transportError(s.Name(), err)
	}
	if rr.IsError() {
		return "", internal.Usage{}, statusError(s.Name(), s.model, rr)
	}
	if len(resp.Candidates) == 0 {
		return "", internal.Usage{}, apperr.New(apperr.KindContract, "no candidates returned")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if b.Len() == 0 && resp.Candidates[0].FinishReason == "SAFETY" {
		return "", internal.Usage{}, &apperr.Error{Kind: apperr.KindTerminal, Provider: s.Name(), Msg: "blocked by content filter"}
	}
	usage := internal.Usage{
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
	}
	return strings.TrimSpace(b.String()), usage, nil
}

func (s *GeminiService) Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error) {
	content, usage, err := s.generate(ctx, req.System, req.User, req.Format != FormatFramed)
	if err != nil {
		return nil, err
	}
	blocks, err := parse(req.Format, content, req.Blocks)
	if err != nil {
		return &TranslateResult{Usage: usage, Model: s.model, Raw: content}, err
	}
	return &TranslateResult{Blocks: blocks, Usage: usage, Model: s.model, Raw: content}, nil
}

func (s *GeminiService) Complete(ctx context.Context, prompt string) (string, error) {
	out, _, err := s.generate(ctx, "", prompt, false)
	return out, err
}

func (s *GeminiService) TranslatePlain(ctx context.Context, prompt string) (string, error) {
	out, err := s.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return postprocess.Clean(out), nil
}
