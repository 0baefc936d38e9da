package translator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/valpere/doctran/internal/apperr"
)

func chunkRequest(format Format) TranslateRequest {
	return TranslateRequest{
		Blocks:     testBlocks(),
		TargetLang: "zh-TW",
		System:     "system prompt",
		User:       "user prompt",
		Format:     format,
	}
}

const contractBody = `{"blocks":[
	{"slide_index":0,"shape_id":1,"block_type":"textbox","source_text":"Hello","translated_text":"你好"},
	{"slide_index":0,"shape_id":"t-2","block_type":"table_cell","source_text":"World","translated_text":"世界"}]}`

func TestOpenAIService_Translate_Success(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": contractBody}}},
			"usage":   map[string]int{"prompt_tokens": 120, "completion_tokens": 30},
		})
	}))
	defer server.Close()

	svc := NewOpenAIService(ServiceConfig{APIKey: "test-key", BaseURL: server.URL})
	res, err := svc.Translate(context.Background(), chunkRequest(FormatJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Blocks[0].TranslatedText != "你好" {
		t.Errorf("expected '你好', got %q", res.Blocks[0].TranslatedText)
	}
	if res.Usage.PromptTokens != 120 || res.Usage.CompletionTokens != 30 {
		t.Errorf("unexpected usage: %+v", res.Usage)
	}
	if got["model"] != DefaultOpenAIModel {
		t.Errorf("expected default model, got %v", got["model"])
	}
	if _, ok := got["response_format"]; !ok {
		t.Error("expected json response_format")
	}
}

func TestOpenAIService_Translate_NoAPIKey(t *testing.T) {
	svc := NewOpenAIService(ServiceConfig{})
	_, err := svc.Translate(context.Background(), chunkRequest(FormatJSON))
	if apperr.KindOf(err) != apperr.KindConfig {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestOpenAIService_Translate_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		model  string
		want   apperr.Kind
	}{
		{"rate limit", http.StatusTooManyRequests, "slow down", "", apperr.KindTransient},
		{"server error", http.StatusBadGateway, "upstream", "", apperr.KindTransient},
		{"auth", http.StatusUnauthorized, "bad key", "", apperr.KindTerminal},
		{"vision", http.StatusBadRequest, "image_url is not supported by this model", "gpt-3.5-turbo", apperr.KindVisionUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			svc := NewOpenAIService(ServiceConfig{APIKey: "k", BaseURL: server.URL, Model: tt.model})
			_, err := svc.Translate(context.Background(), chunkRequest(FormatJSON))
			if apperr.KindOf(err) != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
			if tt.want == apperr.KindTransient && apperr.RetryAfterOf(err) != 2*time.Second {
				t.Errorf("expected Retry-After 2s, got %v", apperr.RetryAfterOf(err))
			}
		})
	}
}

func TestOpenAIService_Translate_ContractViolation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": `{"blocks":[]}`}}},
		})
	}))
	defer server.Close()

	svc := NewOpenAIService(ServiceConfig{APIKey: "k", BaseURL: server.URL})
	res, err := svc.Translate(context.Background(), chunkRequest(FormatJSON))
	if apperr.KindOf(err) != apperr.KindContract {
		t.Fatalf("expected contract violation, got %v", err)
	}
	if res == nil || res.Raw != `{"blocks":[]}` {
		t.Error("expected raw content on contract violation")
	}
}

func TestGeminiService_Translate_Success(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/"+DefaultGeminiModel+":generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Errorf("missing api key header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]string{{"text": contractBody}}},
			}},
			"usageMetadata": map[string]int{"promptTokenCount": 80, "candidatesTokenCount": 20},
		})
	}))
	defer server.Close()

	svc := NewGeminiService(ServiceConfig{APIKey: "g-key", BaseURL: server.URL})
	res, err := svc.Translate(context.Background(), chunkRequest(FormatJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Blocks[1].TranslatedText != "世界" {
		t.Errorf("expected '世界', got %q", res.Blocks[1].TranslatedText)
	}
	if res.Usage.Total() != 100 {
		t.Errorf("expected 100 tokens, got %d", res.Usage.Total())
	}
	if _, ok := got["systemInstruction"]; !ok {
		t.Error("expected systemInstruction in request")
	}
}

func TestGeminiService_Translate_SafetyBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	}))
	defer server.Close()

	svc := NewGeminiService(ServiceConfig{APIKey: "g-key", BaseURL: server.URL})
	_, err := svc.Translate(context.Background(), chunkRequest(FormatJSON))
	if apperr.KindOf(err) != apperr.KindTerminal {
		t.Errorf("expected terminal error, got %v", err)
	}
}

func TestOllamaTranslator_Translate_Framed(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"response":          "<<<BLOCK:0>>>\n你好\n<<<END>>>\n<<<BLOCK:1>>>\n世界\n<<<END>>>",
			"prompt_eval_count": 50,
			"eval_count":        10,
		})
	}))
	defer server.Close()

	svc := NewOllamaTranslator(ServiceConfig{BaseURL: server.URL})
	res, err := svc.Translate(context.Background(), chunkRequest(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Blocks[0].TranslatedText != "你好" || res.Blocks[1].TranslatedText != "世界" {
		t.Errorf("unexpected blocks: %+v", res.Blocks)
	}
	if got["stream"] != false {
		t.Errorf("expected stream=false, got %v", got["stream"])
	}
	if _, ok := got["format"]; ok {
		t.Error("framed requests must not force JSON format")
	}
	if res.Usage.PromptTokens != 50 || res.Usage.CompletionTokens != 10 {
		t.Errorf("unexpected usage: %+v", res.Usage)
	}
}

func TestOllamaTranslator_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	p, err := New("ollama", ServiceConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	checker, ok := p.(Checker)
	if !ok {
		t.Fatal("ollama provider should implement Checker")
	}
	if err := checker.IsAvailable(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	var mock Provider = NewMockService()
	if _, ok := mock.(Checker); ok {
		t.Error("mock provider should not implement Checker")
	}
	server.Close()
	if err := NewOllamaTranslator(ServiceConfig{BaseURL: server.URL}).IsAvailable(context.Background()); err == nil {
		t.Error("expected error when ollama is not running")
	}
}

func TestOllamaTranslator_TranslatePlain_Cleans(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"response": "<think>hmm</think>\"Xin chào\""})
	}))
	defer server.Close()

	out, err := NewOllamaTranslator(ServiceConfig{BaseURL: server.URL}).TranslatePlain(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Xin chào" {
		t.Errorf("expected 'Xin chào', got %q", out)
	}
}

func TestTransportError_IsTransient(t *testing.T) {
	svc := NewOpenAIService(ServiceConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	_, err := svc.Translate(context.Background(), chunkRequest(FormatJSON))
	if apperr.KindOf(err) != apperr.KindTransient {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestMockService_Identity(t *testing.T) {
	res, err := NewMockService().Translate(context.Background(), chunkRequest(FormatJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, b := range res.Blocks {
		if b.TranslatedText != b.SourceText {
			t.Errorf("block %d: expected identity, got %q", i, b.TranslatedText)
		}
	}
}

func TestGo_DeliversOnce(t *testing.T) {
	ch := Go(context.Background(), NewMockService(), chunkRequest(FormatJSON))
	r, ok := <-ch
	if !ok || r.Err != nil || len(r.Result.Blocks) != 2 {
		t.Fatalf("unexpected async result: %+v", r)
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}
}

func TestNew_Providers(t *testing.T) {
	for _, name := range Providers {
		p, err := New(name, ServiceConfig{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("expected %q, got %q", name, p.Name())
		}
	}
	if _, err := New("systran", ServiceConfig{}); apperr.KindOf(err) != apperr.KindConfig {
		t.Errorf("expected config error for unknown provider, got %v", err)
	}
	if HasCredentials("openai", ServiceConfig{}) {
		t.Error("openai without key must report missing credentials")
	}
	if !HasCredentials("ollama", ServiceConfig{}) {
		t.Error("ollama needs no credentials")
	}
}
