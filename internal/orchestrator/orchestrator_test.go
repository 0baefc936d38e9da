package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/apperr"
	"github.com/valpere/doctran/internal/config"
	"github.com/valpere/doctran/internal/progress"
	"github.com/valpere/doctran/internal/store"
	"github.com/valpere/doctran/internal/translator"
)

type fakeProvider struct {
	name  string
	model string
	fn    func(n int32, req translator.TranslateRequest) (*translator.TranslateResult, error)

	calls    atomic.Int32
	mu       sync.Mutex
	requests []translator.TranslateRequest
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.model }

func (f *fakeProvider) Translate(ctx context.Context, req translator.TranslateRequest) (*translator.TranslateResult, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(n, req)
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return prompt, nil
}

func (f *fakeProvider) TranslatePlain(ctx context.Context, prompt string) (string, error) {
	return prompt, nil
}

func (f *fakeProvider) lastRequest(t *testing.T) translator.TranslateRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

// reply maps every (wrapped) source text of the request through fn.
func reply(fn func(src string) string) func(int32, translator.TranslateRequest) (*translator.TranslateResult, error) {
	return func(_ int32, req translator.TranslateRequest) (*translator.TranslateResult, error) {
		out := make([]internal.Block, len(req.Blocks))
		for i, b := range req.Blocks {
			b.TranslatedText = fn(b.SourceText)
			out[i] = b
		}
		return &translator.TranslateResult{Blocks: out, Usage: internal.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
	}
}

func fail(err error) func(int32, translator.TranslateRequest) (*translator.TranslateResult, error) {
	return func(int32, translator.TranslateRequest) (*translator.TranslateResult, error) { return nil, err }
}

func newOpenAIFake(fn func(int32, translator.TranslateRequest) (*translator.TranslateResult, error)) *fakeProvider {
	return &fakeProvider{name: "openai", model: "gpt-4o-mini", fn: fn}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.OpenAI.APIKey = "test"
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryMaxBackoff = 5 * time.Millisecond
	cfg.RetryJitter = 0
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg config.Config, p *fakeProvider) (*Orchestrator, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	o := New(cfg, Deps{
		Store:  s,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewProvider: func(name string, sc translator.ServiceConfig) (translator.Provider, error) {
			if p != nil && name == p.name {
				return p, nil
			}
			return translator.New(name, sc)
		},
	})
	return o, s
}

func textbox(slide int, shape int, text string) internal.Block {
	return internal.Block{SlideIndex: slide, ShapeID: internal.IntShapeID(shape), BlockType: internal.BlockTextbox, SourceText: text}
}

func TestTranslate_MockIdentity(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(), nil)
	in := textbox(0, 1, "Hello")
	in.ClientID = "c1"
	in.Layout = json.RawMessage(`{"font":"Arial"}`)

	res, err := o.Translate(context.Background(), Request{
		Blocks:         []internal.Block{in},
		TargetLanguage: "zh-TW",
		Provider:       "mock",
	})
	require.NoError(t, err)
	require.Len(t, res.Contract.Blocks, 1)

	out := res.Contract.Blocks[0]
	assert.Equal(t, "Hello", out.TranslatedText)
	assert.True(t, out.SameIdentity(in))
	assert.Equal(t, "c1", out.ClientID)
	assert.JSONEq(t, `{"font":"Arial"}`, string(out.Layout))
	assert.Equal(t, "zh-TW", res.Contract.TargetLanguage)
	assert.Equal(t, "mock", res.Provider)
}

func TestTranslate_CacheHitAndCoherence(t *testing.T) {
	p := newOpenAIFake(reply(func(string) string { return "您好" }))
	o, s := newTestOrchestrator(t, testConfig(), p)
	ctx := context.Background()

	key := store.CacheKey("Hello", "zh-TW", internal.RequestContext{Provider: "openai", Model: "gpt-4o-mini", VisionContext: true})
	require.NoError(t, s.SetCache(ctx, key, "你好"))

	req := Request{
		Blocks:         []internal.Block{textbox(0, 1, "Hello")},
		TargetLanguage: "zh-TW",
		Provider:       "openai",
		VisionContext:  true,
	}
	res, err := o.Translate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "你好", res.Contract.Blocks[0].TranslatedText)
	assert.Equal(t, int32(0), p.calls.Load())
	assert.Equal(t, 1, res.Stats.CacheHits)

	again, err := o.Translate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, res.Contract.Blocks[0].TranslatedText, again.Contract.Blocks[0].TranslatedText)
	assert.Equal(t, int32(0), p.calls.Load())

	req.Tone = "formal"
	toned, err := o.Translate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "您好", toned.Contract.Blocks[0].TranslatedText)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestTranslate_PreserveTerm(t *testing.T) {
	p := newOpenAIFake(reply(func(string) string { return "愛克美公司" }))
	o, s := newTestOrchestrator(t, testConfig(), p)
	ctx := context.Background()
	_, err := s.AddPreserveTerm(ctx, "ACME Corp", "brand", true)
	require.NoError(t, err)

	res, err := o.Translate(ctx, Request{
		Blocks:         []internal.Block{textbox(0, 1, "ACME Corp")},
		TargetLanguage: "zh-TW",
		Provider:       "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME Corp", res.Contract.Blocks[0].TranslatedText)
	assert.Equal(t, int32(0), p.calls.Load())
	assert.Equal(t, 1, res.Stats.Preserved)

	rows, err := s.ListTM(ctx, store.TMFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	glossary, err := s.ListGlossary(ctx, store.GlossaryFilter{})
	require.NoError(t, err)
	assert.Empty(t, glossary)
}

func TestTranslate_Placeholders(t *testing.T) {
	p := newOpenAIFake(reply(func(src string) string {
		if strings.Contains(src, "__TERM_0__") {
			return "__TERM_0__報告"
		}
		return "報告"
	}))
	o, s := newTestOrchestrator(t, testConfig(), p)
	ctx := context.Background()
	_, err := s.UpsertGlossary(ctx, store.GlossaryEntry{SourceLang: "en", TargetLang: "zh-TW", SourceText: "Quarterly", TargetText: "季度"})
	require.NoError(t, err)

	res, err := o.Translate(ctx, Request{
		Blocks:         []internal.Block{textbox(0, 1, "The Quarterly report")},
		TargetLanguage: "zh-TW",
		SourceLanguage: "en",
		Provider:       "openai",
	})
	require.NoError(t, err)

	req := p.lastRequest(t)
	assert.Equal(t, "The __TERM_0__ report", req.Blocks[0].SourceText)
	assert.Contains(t, req.User, "__TERM_0__")
	assert.Equal(t, "季度報告", res.Contract.Blocks[0].TranslatedText)

	rows, err := s.ListTM(ctx, store.TMFilter{SourceLang: "en", TargetLang: "zh-TW"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "季度報告", rows[0].TargetText)
}

func TestTranslate_PlaceholdersNumberedPerChunk(t *testing.T) {
	p := newOpenAIFake(reply(strings.NewReplacer(" report", "報告", " plan", "計畫").Replace))
	o, s := newTestOrchestrator(t, testConfig(), p)
	ctx := context.Background()
	_, err := s.UpsertGlossary(ctx, store.GlossaryEntry{SourceLang: "en", TargetLang: "zh-TW", SourceText: "Quarterly", TargetText: "季度"})
	require.NoError(t, err)

	res, err := o.Translate(ctx, Request{
		Blocks:         []internal.Block{textbox(0, 1, "Quarterly report"), textbox(0, 2, "Quarterly plan")},
		TargetLanguage: "zh-TW",
		SourceLanguage: "en",
		Provider:       "openai",
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), p.calls.Load())

	req := p.lastRequest(t)
	assert.Equal(t, "__TERM_0__ report", req.Blocks[0].SourceText)
	assert.Equal(t, "__TERM_1__ plan", req.Blocks[1].SourceText)
	assert.Contains(t, req.User, "__TERM_0__, __TERM_1__.")
	assert.Equal(t, "季度報告", res.Contract.Blocks[0].TranslatedText)
	assert.Equal(t, "季度計畫", res.Contract.Blocks[1].TranslatedText)
}

func TestTranslate_LanguageGuardRecovers(t *testing.T) {
	vietnamese := map[string]string{
		"Quarterly revenue report": "Báo cáo doanh thu được cập nhật",
		"Marketing plan overview":  "Kế hoạch tiếp thị của công ty",
		"New employees start soon": "Nhân viên mới sẽ bắt đầu",
	}
	p := newOpenAIFake(func(_ int32, req translator.TranslateRequest) (*translator.TranslateResult, error) {
		strict := strings.Contains(req.User, "LANGUAGE GUARD")
		return reply(func(src string) string {
			if strict {
				return vietnamese[src]
			}
			return src
		})(0, req)
	})
	o, _ := newTestOrchestrator(t, testConfig(), p)

	res, err := o.Translate(context.Background(), Request{
		Blocks: []internal.Block{
			textbox(0, 1, "Quarterly revenue report"),
			textbox(0, 2, "Marketing plan overview"),
			textbox(1, 1, "New employees start soon"),
		},
		TargetLanguage: "vi",
		SourceLanguage: "en",
		Provider:       "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, 1, res.Stats.GuardRetries)
	for _, b := range res.Contract.Blocks {
		assert.Equal(t, vietnamese[b.SourceText], b.TranslatedText)
		ok, err := o.guard.IsValid(b.TranslatedText, "vi")
		assert.True(t, ok, err)
	}
}

func TestTranslate_LanguageMismatchSurfaces(t *testing.T) {
	p := newOpenAIFake(reply(func(src string) string { return src + " again" }))
	o, s := newTestOrchestrator(t, testConfig(), p)
	ctx := context.Background()

	_, err := o.Translate(ctx, Request{
		Blocks:         []internal.Block{textbox(0, 1, "Quarterly revenue report"), textbox(0, 2, "Marketing plan overview")},
		TargetLanguage: "vi",
		SourceLanguage: "en",
		Provider:       "openai",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindLanguageMismatch, apperr.KindOf(err))
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 2, ae.Detected["en"])
	assert.Equal(t, int32(2), p.calls.Load())

	rows, err := s.ListTM(ctx, store.TMFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTranslate_AcronymsPassLanguageGuard(t *testing.T) {
	p := newOpenAIFake(reply(func(src string) string {
		if src == "Revenue grew strongly" {
			return "營收強勁成長"
		}
		return src
	}))
	o, _ := newTestOrchestrator(t, testConfig(), p)

	res, err := o.Translate(context.Background(), Request{
		Blocks: []internal.Block{
			textbox(0, 1, "Revenue grew strongly"),
			textbox(0, 2, "KPI"),
			textbox(0, 3, "AWS"),
		},
		TargetLanguage: "zh-TW",
		SourceLanguage: "en",
		Provider:       "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Zero(t, res.Stats.GuardRetries)
	assert.Equal(t, "營收強勁成長", res.Contract.Blocks[0].TranslatedText)
	assert.Equal(t, "KPI", res.Contract.Blocks[1].TranslatedText)
}

func TestTranslate_Resume(t *testing.T) {
	blocks := make([]internal.Block, 10)
	for i := range blocks {
		blocks[i] = textbox(i, 1, fmt.Sprintf("Block number %d", i))
		blocks[i].ClientID = fmt.Sprintf("b%d", i)
	}
	translate := func(src string) string {
		return "翻譯" + strings.TrimPrefix(src, "Block number ")
	}

	cfg := testConfig()
	cfg.ChunkSize = 5
	cfg.FallbackOnError = false

	first := newOpenAIFake(func(n int32, req translator.TranslateRequest) (*translator.TranslateResult, error) {
		if n > 1 {
			return nil, apperr.New(apperr.KindTerminal, "provider exploded")
		}
		return reply(translate)(n, req)
	})
	o, s := newTestOrchestrator(t, cfg, first)
	req := Request{Blocks: blocks, TargetLanguage: "zh-TW", SourceLanguage: "en", Provider: "openai"}

	_, err := o.Translate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(2), first.calls.Load())

	second := newOpenAIFake(reply(translate))
	o2 := New(cfg, Deps{
		Store:       s,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewProvider: func(string, translator.ServiceConfig) (translator.Provider, error) { return second, nil },
	})
	req.CompletedIDs = []string{"b0", "b1", "b2", "b3", "b4"}
	res, err := o2.Translate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), second.calls.Load())
	sent := second.lastRequest(t).Blocks
	require.Len(t, sent, 5)
	for k, b := range sent {
		assert.Equal(t, fmt.Sprintf("b%d", k+5), b.ClientID)
	}
	for i, b := range res.Contract.Blocks {
		assert.Equal(t, fmt.Sprintf("翻譯%d", i), b.TranslatedText)
	}
	assert.Equal(t, 5, res.Stats.Resumed)
}

func TestTranslate_TransientRetry(t *testing.T) {
	p := newOpenAIFake(func(n int32, req translator.TranslateRequest) (*translator.TranslateResult, error) {
		if n < 3 {
			return nil, &apperr.Error{Kind: apperr.KindTransient, Provider: "openai", Status: 503}
		}
		return reply(func(string) string { return "你好" })(n, req)
	})
	o, _ := newTestOrchestrator(t, testConfig(), p)

	res, err := o.Translate(context.Background(), Request{
		Blocks:         []internal.Block{textbox(0, 1, "Hello")},
		TargetLanguage: "zh-TW",
		Provider:       "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, "你好", res.Contract.Blocks[0].TranslatedText)
	assert.Equal(t, int32(3), p.calls.Load())
	assert.Equal(t, 2, res.Stats.Retries)
	assert.Equal(t, 15, res.Usage.Total())
}

func TestTranslate_FallbackAfterRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	p := newOpenAIFake(fail(&apperr.Error{Kind: apperr.KindTransient, Status: 429}))
	o, s := newTestOrchestrator(t, cfg, p)
	ctx := context.Background()

	res, err := o.Translate(ctx, Request{
		Blocks:         []internal.Block{textbox(0, 1, "Hello")},
		TargetLanguage: "zh-TW",
		Provider:       "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Contract.Blocks[0].TranslatedText)
	assert.Equal(t, int32(3), p.calls.Load())
	assert.Equal(t, 1, res.Stats.Fallbacks)

	_, ok, err := s.GetCache(ctx, store.CacheKey("Hello", "zh-TW", internal.RequestContext{Provider: "openai", Model: "gpt-4o-mini"}))
	require.NoError(t, err)
	assert.False(t, ok, "fallback output must not be cached")
}

func TestTranslate_ContractViolationRetriedOnce(t *testing.T) {
	p := newOpenAIFake(fail(apperr.New(apperr.KindContract, "missing blocks")))
	o, _ := newTestOrchestrator(t, testConfig(), p)

	res, err := o.Translate(context.Background(), Request{
		Blocks:         []internal.Block{textbox(0, 1, "Hello")},
		TargetLanguage: "zh-TW",
		Provider:       "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, 1, res.Stats.Fallbacks)
}

func TestTranslate_VisionUnsupportedIsImmediate(t *testing.T) {
	p := newOpenAIFake(fail(&apperr.Error{Kind: apperr.KindVisionUnsupported, Status: 400}))
	o, _ := newTestOrchestrator(t, testConfig(), p)

	_, err := o.Translate(context.Background(), Request{
		Blocks:         []internal.Block{textbox(0, 1, "Hello")},
		TargetLanguage: "zh-TW",
		Provider:       "openai",
		VisionContext:  true,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindVisionUnsupported, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "vision-capable")
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestTranslate_DeduplicatesPending(t *testing.T) {
	p := newOpenAIFake(reply(func(src string) string {
		if src == "Hello" {
			return "你好"
		}
		return "世界"
	}))
	o, _ := newTestOrchestrator(t, testConfig(), p)

	res, err := o.Translate(context.Background(), Request{
		Blocks: []internal.Block{
			textbox(0, 1, "Hello"), textbox(0, 2, "World"), textbox(1, 1, "Hello"), textbox(2, 1, "Hello"),
		},
		TargetLanguage: "zh-TW",
		Provider:       "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Len(t, p.lastRequest(t).Blocks, 2)
	assert.Equal(t, 2, res.Stats.Deduplicated)
	got := []string{}
	for _, b := range res.Contract.Blocks {
		got = append(got, b.TranslatedText)
	}
	assert.Equal(t, []string{"你好", "世界", "你好", "你好"}, got)
}

func TestTranslate_MissingCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAI.APIKey = ""
	cfg.FallbackOnError = false
	o, _ := newTestOrchestrator(t, cfg, nil)
	req := Request{Blocks: []internal.Block{textbox(0, 1, "Hello")}, TargetLanguage: "zh-TW", Provider: "openai"}

	_, err := o.Translate(context.Background(), req)
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))

	cfg.FallbackOnError = true
	o, _ = newTestOrchestrator(t, cfg, nil)
	res, err := o.Translate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "mock", res.Provider)
	assert.Equal(t, "Hello", res.Contract.Blocks[0].TranslatedText)
}

func TestTranslate_InvalidRequest(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(), nil)
	_, err := o.Translate(context.Background(), Request{Blocks: []internal.Block{textbox(0, 1, "Hello")}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	bad := textbox(0, 1, "Hello")
	bad.BlockType = "hologram"
	_, err = o.Translate(context.Background(), Request{Blocks: []internal.Block{bad}, TargetLanguage: "vi"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestTranslate_Modes(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(), nil)
	bilingual := textbox(0, 1, "Hello")
	bilingual.Mode = internal.ModeBilingual
	correction := textbox(0, 2, "World")
	correction.Mode = internal.ModeCorrection
	correction.TranslatedText = "世界"
	empty := textbox(0, 3, "   ")

	res, err := o.Translate(context.Background(), Request{
		Blocks:         []internal.Block{bilingual, correction, empty},
		TargetLanguage: "zh-TW",
		Provider:       "mock",
	})
	require.NoError(t, err)
	out := res.Contract.Blocks
	assert.Equal(t, "Hello", out[0].TranslatedText, "identity output equals the source")
	assert.Equal(t, "Hello", out[0].TempTranslatedText)
	assert.Equal(t, "世界", out[1].TranslatedText)
	assert.Equal(t, "World", out[1].CorrectionTemp)
	assert.Equal(t, "", out[2].TranslatedText)
}

func TestTranslate_AlignsBilingualPairs(t *testing.T) {
	p := newOpenAIFake(reply(func(string) string { return "季度報告" }))
	o, _ := newTestOrchestrator(t, testConfig(), p)

	res, err := o.Translate(context.Background(), Request{
		Blocks:         []internal.Block{textbox(0, 1, "Quarterly report"), textbox(0, 2, "季度報告書")},
		TargetLanguage: "zh-TW",
		SourceLanguage: "en",
		Provider:       "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Aligned)
	assert.Equal(t, "Quarterly report", res.Contract.Blocks[0].TranslatedText)
	assert.Equal(t, "季度報告", res.Contract.Blocks[1].TranslatedText)

	req := p.lastRequest(t)
	require.Len(t, req.Blocks, 1)
	assert.Contains(t, req.User, "aligned source] Quarterly report")
}

func TestTranslateStream_Events(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize = 1
	p := newOpenAIFake(reply(func(src string) string {
		return map[string]string{"Hello": "你好", "World": "世界", "Thanks": "謝謝"}[src]
	}))
	o, _ := newTestOrchestrator(t, cfg, p)

	var mu sync.Mutex
	var events []progress.Event
	sink := progress.SinkFunc(func(e progress.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	blocks := []internal.Block{textbox(0, 1, "Hello"), textbox(0, 2, "World"), textbox(1, 1, "Thanks")}
	for i := range blocks {
		blocks[i].ClientID = fmt.Sprintf("c%d", i)
	}
	res, err := o.TranslateStream(context.Background(), Request{Blocks: blocks, TargetLanguage: "zh-TW", Provider: "openai"}, sink)
	require.NoError(t, err)
	assert.Equal(t, int32(3), p.calls.Load())

	require.Len(t, events, 5)
	assert.Equal(t, progress.EventProgress, events[0].Type)
	assert.Equal(t, 0, events[0].ChunkIndex)
	assert.Equal(t, 3, events[0].TotalPending)

	seen := map[string]bool{}
	for _, e := range events[1:4] {
		assert.Equal(t, progress.EventProgress, e.Type)
		assert.Equal(t, 1, e.ChunkSize)
		require.Len(t, e.CompletedIDs, 1)
		seen[e.CompletedIDs[0]] = true
	}
	assert.Len(t, seen, 3)

	last := events[4]
	assert.Equal(t, progress.EventComplete, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, res.Contract, *last.Result)
}

func TestTranslateStream_ErrorEvent(t *testing.T) {
	p := newOpenAIFake(fail(&apperr.Error{Kind: apperr.KindVisionUnsupported, Status: 400}))
	o, _ := newTestOrchestrator(t, testConfig(), p)

	stream := progress.NewStream(0)
	_, err := o.TranslateStream(context.Background(), Request{
		Blocks:         []internal.Block{textbox(0, 1, "Hello")},
		TargetLanguage: "zh-TW",
		Provider:       "openai",
	}, stream)
	require.Error(t, err)

	var last progress.Event
	for {
		e, err := stream.Next(context.Background())
		if err != nil {
			break
		}
		last = e
	}
	assert.Equal(t, progress.EventError, last.Type)
	require.NotNil(t, last.Error)
	assert.Equal(t, string(apperr.KindVisionUnsupported), last.Error.Kind)
}

func TestTranslateStream_AbandonsProviderIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newOpenAIFake(func(int32, translator.TranslateRequest) (*translator.TranslateResult, error) {
		<-release
		return nil, errors.New("released")
	})
	cfg := testConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	cfg.FallbackOnError = false
	o, _ := newTestOrchestrator(t, cfg, p)

	start := time.Now()
	_, err := o.TranslateStream(context.Background(), Request{
		Blocks:         []internal.Block{textbox(0, 1, "Hello")},
		TargetLanguage: "zh-TW",
		Provider:       "openai",
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestKeepVietnamesePrefix(t *testing.T) {
	tests := []struct {
		name, source, translated, want string
	}{
		{"prefix restored", "Báo cáo được cập nhật 財務報告", "財務報告", "Báo cáo được cập nhật 財務報告"},
		{"translation kept vietnamese", "Báo cáo được cập nhật 財務報告", "Báo cáo được 財務", "Báo cáo được 財務"},
		{"no cjk in source", "Báo cáo được cập nhật", "Financial report", "Financial report"},
		{"too few diacritics", "Bao cao 財務報告", "財務報告", "財務報告"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keepVietnamesePrefix(tt.source, tt.translated))
		})
	}
}

func TestSubstituteGlossary(t *testing.T) {
	preferred := []internal.PreferredTerm{{Source: "Quarterly", Target: "季度"}}
	assert.Equal(t, "季度 報告", substituteGlossary("Quarterly report", "quarterly 報告", preferred))
	assert.Equal(t, "季度報告", substituteGlossary("Quarterly report", "季度報告", preferred))
	assert.Equal(t, "Quarterly 報告", substituteGlossary("Annual report", "Quarterly 報告", preferred))
}

func TestDetectDomain(t *testing.T) {
	assert.Equal(t, "finance", detectDomain([]string{"Quarterly revenue", "Profit and budget"}))
	assert.Equal(t, "it", detectDomain([]string{"Deploy the API server to the cloud"}))
	assert.Equal(t, "", detectDomain([]string{"Hello there"}))
}

func TestBackoff(t *testing.T) {
	cfg := config.Default()
	cfg.RetryBackoff = time.Second
	cfg.RetryMaxBackoff = 3 * time.Second
	cfg.RetryJitter = 0
	o := &Orchestrator{cfg: cfg}

	assert.Equal(t, time.Second, o.backoff(1, errors.New("x")))
	assert.Equal(t, 2*time.Second, o.backoff(2, errors.New("x")))
	assert.Equal(t, 3*time.Second, o.backoff(5, errors.New("x")))
	assert.Equal(t, 7*time.Second, o.backoff(1, &apperr.Error{Kind: apperr.KindTransient, RetryAfter: 7 * time.Second}))

	o.cfg.RetryJitter = 500 * time.Millisecond
	d := o.backoff(1, errors.New("x"))
	assert.GreaterOrEqual(t, d, time.Second)
	assert.Less(t, d, 1500*time.Millisecond)
}
