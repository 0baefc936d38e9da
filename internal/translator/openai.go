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
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIService talks to any OpenAI-compatible chat completions endpoint.
type OpenAIService struct {
	apiKey  string
	baseURL string
	model   string
	client  *resty.Client
}

func NewOpenAIService(cfg ServiceConfig) *OpenAIService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	return &OpenAIService{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  newClient(cfg),
	}
}

func (s *OpenAIService) Name() string  { return "openai" }
func (s *OpenAIService) Model() string { return s.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (s *OpenAIService) chat(ctx context.Context, messages []chatMessage, jsonMode bool) (string, internal.Usage, error) {
	if s.apiKey == "" {
		return "", internal.Usage{}, apperr.New(apperr.KindConfig, "openai api key required")
	}
	body := map[string]any{
		"model":       s.model,
		"messages":    messages,
		"temperature": 0,
	}
	if jsonMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	var resp chatResponse
	rr, err := s.client.R().SetContext(ctx).ForceContentType("application/json").
		SetHeader("Authorization", "Bearer "+s.apiKey).
		SetBody(body).
		SetResult(&resp).
		Post(joinURL(s.baseURL, "/chat/completions"))
	if err != nil {
		return "", internal.Usage{}, transportError(s.Name(), err)
	}
	if rr.IsError() {
		return "", internal.Usage{}, statusError(s.Name(), s.model, rr)
	}
	if len(resp.Choices) == 0 {
		return "", internal.Usage{}, apperr.New(apperr.KindContract, "no choices returned")
	}
	usage := internal.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
	return strings.TrimSpace(resp.Choices[0].Message.Content), usage, nil
}

func (s *OpenAIService) Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error) {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	content, usage, err := s.chat(ctx, messages, req.Format != FormatFramed)
	if err != nil {
		return nil, err
	}
	blocks, err := parse(req.Format, content, req.Blocks)
	if err != nil {
		return &TranslateResult{Usage: usage, Model: s.model, Raw: content}, err
	}
	return &TranslateResult{Blocks: blocks, Usage: usage, Model: s.model, Raw: content}, nil
}

func (s *OpenAIService) Complete(ctx context.Context, prompt string) (string, error) {
	out, _, err := s.chat(ctx, []chatMessage{{Role: "user", Content: prompt}}, false)
	return out, err
}

func (s *OpenAIService) TranslatePlain(ctx context.Context, prompt string) (string, error) {
	out, err := s.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return postprocess.Clean(out), nil
}
