package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/apperr"
	"github.com/valpere/doctran/internal/learning"
	"github.com/valpere/doctran/internal/orchestrator"
	"github.com/valpere/doctran/internal/progress"
	"github.com/valpere/doctran/internal/store"
)

type fakeTranslator struct {
	err    error
	events []progress.Event
	got    orchestrator.Request
}

func (f *fakeTranslator) Translate(_ context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.Result{
		RequestID: "req-1",
		Provider:  "mock",
		Contract:  internal.Contract{TargetLanguage: req.TargetLanguage, Blocks: req.Blocks},
	}, nil
}

func (f *fakeTranslator) TranslateStream(ctx context.Context, req orchestrator.Request, sink progress.Sink) (*orchestrator.Result, error) {
	for _, e := range f.events {
		sink.Publish(e)
	}
	if f.err != nil {
		sink.Publish(progress.Event{Type: progress.EventError, Error: &progress.ErrorInfo{Message: f.err.Error()}})
		return nil, f.err
	}
	res, _ := f.Translate(ctx, req)
	sink.Publish(progress.Event{Type: progress.EventComplete, RequestID: res.RequestID, Result: &res.Contract})
	return res, nil
}

type fakeLearner struct {
	err   error
	usage []learning.UsageEntry
}

func (f *fakeLearner) RecordTermFeedback(_ context.Context, _, _, _, _ string) (learning.Feedback, error) {
	if f.err != nil {
		return learning.Feedback{}, f.err
	}
	return learning.Feedback{Count: 3, Promoted: true, GlossaryID: 7}, nil
}

func (f *fakeLearner) RecordOverride(_ context.Context, id int64, target string) (*store.TMEntry, learning.Feedback, error) {
	if f.err != nil {
		return nil, learning.Feedback{}, f.err
	}
	return &store.TMEntry{ID: id, SourceText: "report", TargetText: target}, learning.Feedback{Count: 1}, nil
}

func (f *fakeLearner) Usage() []learning.UsageEntry { return f.usage }

func newTestServer(t *testing.T, tr *fakeTranslator, l *fakeLearner) *httptest.Server {
	t.Helper()
	s := New(tr, l, Options{
		AllowOrigins: []string{"https://app.example"},
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

const validBody = `{"target_language":"zh-TW","blocks":[{"slide_index":0,"shape_id":1,"block_type":"textbox","source_text":"Hello"}]}`

func TestTranslate(t *testing.T) {
	tr := &fakeTranslator{}
	ts := newTestServer(t, tr, &fakeLearner{})

	resp, body := post(t, ts.URL+"/v1/translate", validBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, `"request_id":"req-1"`)
	assert.Contains(t, body, `"target_language":"zh-TW"`)
	assert.Equal(t, "zh-TW", tr.got.TargetLanguage)
	require.Len(t, tr.got.Blocks, 1)
	assert.Equal(t, "Hello", tr.got.Blocks[0].SourceText)
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid", fmt.Errorf("%w: target_language required", orchestrator.ErrInvalidRequest), http.StatusBadRequest, "invalid_request"},
		{"config", apperr.New(apperr.KindConfig, "no api key"), http.StatusBadRequest, "config_error"},
		{"mismatch", &apperr.Error{Kind: apperr.KindLanguageMismatch}, http.StatusUnprocessableEntity, "language_mismatch"},
		{"terminal", &apperr.Error{Kind: apperr.KindTerminal, Status: 401}, http.StatusBadGateway, "provider_terminal"},
		{"transient", &apperr.Error{Kind: apperr.KindTransient, Status: 503}, http.StatusServiceUnavailable, "provider_transient"},
		{"plain", errors.New("disk full"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeTranslator{err: tt.err}, &fakeLearner{})
			resp, body := post(t, ts.URL+"/v1/translate", validBody)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, body, `"code":"`+tt.code+`"`)
		})
	}
}

func TestTranslate_BadJSON(t *testing.T) {
	ts := newTestServer(t, &fakeTranslator{}, &fakeLearner{})
	resp, body := post(t, ts.URL+"/v1/translate", `{"blocks":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "invalid_request")
}

func TestTranslateStream(t *testing.T) {
	tr := &fakeTranslator{events: []progress.Event{
		{Type: progress.EventProgress, ChunkIndex: 0, TotalPending: 1},
		{Type: progress.EventProgress, ChunkIndex: 1, ChunkSize: 1, TotalPending: 1},
	}}
	ts := newTestServer(t, tr, &fakeLearner{})

	resp, body := post(t, ts.URL+"/v1/translate/stream", validBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(body, "event: progress\n"))
	assert.Equal(t, 1, strings.Count(body, "event: complete\n"))
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.Less(t, strings.Index(body, "event: progress"), strings.Index(body, "event: complete"))
}

func TestTranslateStream_ErrorEvent(t *testing.T) {
	tr := &fakeTranslator{err: &apperr.Error{Kind: apperr.KindLanguageMismatch}}
	ts := newTestServer(t, tr, &fakeLearner{})

	resp, body := post(t, ts.URL+"/v1/translate/stream", validBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, strings.Count(body, "event: error\n"))
	assert.NotContains(t, body, "event: complete")
}

func TestTranslateStream_InvalidBeforeStream(t *testing.T) {
	ts := newTestServer(t, &fakeTranslator{}, &fakeLearner{})

	resp, body := post(t, ts.URL+"/v1/translate/stream", `{"blocks":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "invalid_request")
}

func TestFeedback(t *testing.T) {
	ts := newTestServer(t, &fakeTranslator{}, &fakeLearner{})

	resp, body := post(t, ts.URL+"/v1/feedback", `{"source_lang":"en","target_lang":"zh-TW","source":"report","target":"報告"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"count":3,"promoted":true,"glossary_id":7}`, body)

	resp, _ = post(t, ts.URL+"/v1/feedback", `{"source":"report"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOverride(t *testing.T) {
	ts := newTestServer(t, &fakeTranslator{}, &fakeLearner{})
	resp, body := post(t, ts.URL+"/v1/tm/42/override", `{"target":"季度報告"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"id":42`)
	assert.Contains(t, body, `"target_text":"季度報告"`)

	resp, _ = post(t, ts.URL+"/v1/tm/abc/override", `{"target":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOverride_NotFound(t *testing.T) {
	ts := newTestServer(t, &fakeTranslator{}, &fakeLearner{err: fmt.Errorf("override: %w", store.ErrNotFound)})
	resp, body := post(t, ts.URL+"/v1/tm/9/override", `{"target":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "not_found")
}

func TestUsage(t *testing.T) {
	l := &fakeLearner{usage: []learning.UsageEntry{
		{Key: "openai/gpt-4o-mini", Usage: internal.Usage{PromptTokens: 120, CompletionTokens: 30}},
	}}
	ts := newTestServer(t, &fakeTranslator{}, l)

	resp, err := http.Get(ts.URL + "/v1/usage")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `[{"key":"openai/gpt-4o-mini","prompt_tokens":120,"completion_tokens":30}]`, string(data))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeTranslator{}, &fakeLearner{})
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	storageCalls := 0
	s := New(&fakeTranslator{}, &fakeLearner{}, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Checks: []Check{
			{Name: "storage", Fn: func(context.Context) error { storageCalls++; return nil }},
			{Name: "ollama", Fn: func(context.Context) error { return errors.New("connection refused") }},
		},
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ollama")
	assert.Equal(t, 1, storageCalls)
}

func TestCORS(t *testing.T) {
	s := New(&fakeTranslator{}, &fakeLearner{}, Options{
		AllowOrigins: []string{"https://app.example"},
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h := s.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/v1/translate", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/translate", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
