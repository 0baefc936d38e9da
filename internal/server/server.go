// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/valpere/doctran/internal/apperr"
	"github.com/valpere/doctran/internal/learning"
	"github.com/valpere/doctran/internal/orchestrator"
	"github.com/valpere/doctran/internal/progress"
	"github.com/valpere/doctran/internal/store"
)

// Translator runs translation requests.
type Translator interface {
	Translate(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	TranslateStream(ctx context.Context, req orchestrator.Request, sink progress.Sink) (*orchestrator.Result, error)
}

// Learner records user corrections and reports token usage.
type Learner interface {
	RecordTermFeedback(ctx context.Context, source, target, sourceLang, targetLang string) (learning.Feedback, error)
	RecordOverride(ctx context.Context, tmID int64, target string) (*store.TMEntry, learning.Feedback, error)
	Usage() []learning.UsageEntry
}

// Check is a named dependency test run by /health.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Options struct {
	AllowOrigins []string
	Logger       *slog.Logger
	// Checks run in order on every health request.
	Checks []Check
	// StreamLimit bounds the per-request event queue; 0 is unbounded.
	StreamLimit int
}

type Server struct {
	translator Translator
	learner    Learner
	opts       Options
	logger     *slog.Logger
}

func New(t Translator, l Learner, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{translator: t, learner: l, opts: opts, logger: logger}
}

// Handler returns the routed and CORS-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/translate", s.translate)
		r.Post("/translate/stream", s.translateStream)
		r.Post("/feedback", s.feedback)
		r.Post("/tm/{id}/override", s.override)
		r.Get("/usage", s.usage)
	})

	origins := s.opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}).Handler(r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	for _, c := range s.opts.Checks {
		if err := c.Fn(r.Context()); err != nil {
			s.logger.ErrorContext(r.Context(), "health check failed", "check", c.Name, "error", err)
			http.Error(w, "unhealthy: "+c.Name, http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) translate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if !decode(w, r, &req) {
		return
	}
	res, err := s.translator.Translate(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// translateStream answers with server-sent events. Validation failures are
// reported as plain 400 responses before the stream starts; later failures
// arrive as the terminal error event. A client disconnect cancels the
// request.
func (s *Server) translateStream(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream := progress.NewStream(s.opts.StreamLimit)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.translator.TranslateStream(ctx, req, stream); err != nil {
			s.logger.WarnContext(ctx, "stream request failed", "error", err)
		}
	}()

	if err := progress.Pump(ctx, stream, w); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "event stream interrupted", "error", err)
	}
	cancel()
	<-done
	if n := stream.Dropped(); n > 0 {
		s.logger.InfoContext(r.Context(), "progress events dropped", "count", n)
	}
}

type feedbackRequest struct {
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Source     string `json:"source"`
	Target     string `json:"target"`
}

type feedbackResponse struct {
	Count      int   `json:"count"`
	Promoted   bool  `json:"promoted"`
	GlossaryID int64 `json:"glossary_id,omitempty"`
}

func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SourceLang == "" || req.TargetLang == "" || req.Source == "" || req.Target == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "source_lang, target_lang, source and target are required")
		return
	}
	fb, err := s.learner.RecordTermFeedback(r.Context(), req.Source, req.Target, req.SourceLang, req.TargetLang)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, feedbackResponse{Count: fb.Count, Promoted: fb.Promoted, GlossaryID: fb.GlossaryID})
}

func (s *Server) override(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return
	}
	var req struct {
		Target string `json:"target"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Target == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "target is required")
		return
	}
	e, fb, err := s.learner.RecordOverride(r.Context(), id, req.Target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":          e.ID,
		"source_text": e.SourceText,
		"target_text": e.TargetText,
		"feedback":    feedbackResponse{Count: fb.Count, Promoted: fb.Promoted, GlossaryID: fb.GlossaryID},
	})
}

func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	type row struct {
		Key              string `json:"key"`
		PromptTokens     int    `json:"prompt_tokens"`
		CompletionTokens int    `json:"completion_tokens"`
	}
	out := []row{}
	for _, u := range s.learner.Usage() {
		out = append(out, row{Key: u.Key, PromptTokens: u.Usage.PromptTokens, CompletionTokens: u.Usage.CompletionTokens})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "error", err)
	}
	respondError(w, status, code, err.Error())
}

// classify maps an error to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, "timeout"
		}
		return http.StatusInternalServerError, "internal"
	}
	switch kind := ae.Kind; kind {
	case apperr.KindConfig:
		return http.StatusBadRequest, string(kind)
	case apperr.KindLanguageMismatch, apperr.KindVisionUnsupported, apperr.KindDataQualityRejected:
		return http.StatusUnprocessableEntity, string(kind)
	case apperr.KindTransient:
		return http.StatusServiceUnavailable, string(kind)
	case apperr.KindTerminal, apperr.KindContract:
		return http.StatusBadGateway, string(kind)
	}
	return http.StatusInternalServerError, "internal"
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	var body errorBody
	body.Error.Code, body.Error.Message = code, msg
	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"internal","message":"encode response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

const maxBody = 32 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "decode body: "+err.Error())
		return false
	}
	return true
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				level := slog.LevelInfo
				switch {
				case ww.Status() >= 500:
					level = slog.LevelError
				case ww.Status() >= 400:
					level = slog.LevelWarn
				}
				logger.LogAttrs(r.Context(), level, "request completed",
					slog.String("request_id", chimiddleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Int("bytes_out", ww.BytesWritten()),
					slog.Duration("latency", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
