// Package orchestrator drives a translation request from warm-up through
// chunked provider dispatch to the final contract.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/apperr"
	"github.com/valpere/doctran/internal/chunker"
	"github.com/valpere/doctran/internal/config"
	"github.com/valpere/doctran/internal/detector"
	"github.com/valpere/doctran/internal/learning"
	"github.com/valpere/doctran/internal/progress"
	"github.com/valpere/doctran/internal/prompt"
	"github.com/valpere/doctran/internal/store"
	"github.com/valpere/doctran/internal/terms"
	"github.com/valpere/doctran/internal/translator"
	"github.com/valpere/doctran/internal/validator"
)

// ProviderFactory builds a provider by name.
type ProviderFactory func(name string, cfg translator.ServiceConfig) (translator.Provider, error)

// Deps are the collaborators of an Orchestrator. Only Store is required.
type Deps struct {
	Store       *store.Store
	Terms       *terms.Provider
	Prompts     *prompt.Builder
	Detector    *detector.Detector
	Guard       *validator.Guard
	Recorder    *learning.Recorder
	Logger      *slog.Logger
	NewProvider ProviderFactory
}

type Orchestrator struct {
	cfg         config.Config
	store       *store.Store
	terms       *terms.Provider
	prompts     *prompt.Builder
	det         *detector.Detector
	guard       *validator.Guard
	recorder    *learning.Recorder
	logger      *slog.Logger
	newProvider ProviderFactory
}

func New(cfg config.Config, d Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		store:       d.Store,
		terms:       d.Terms,
		prompts:     d.Prompts,
		det:         d.Detector,
		guard:       d.Guard,
		recorder:    d.Recorder,
		logger:      d.Logger,
		newProvider: d.NewProvider,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.det == nil {
		o.det = detector.New()
	}
	if o.guard == nil {
		o.guard = validator.New(o.det)
	}
	if o.terms == nil {
		o.terms = terms.New(o.store, o.logger)
	}
	if o.prompts == nil {
		o.prompts = prompt.New(cfg.PromptsDir, o.logger)
	}
	if o.recorder == nil {
		o.recorder = learning.New(o.store, o.logger)
	}
	if o.newProvider == nil {
		o.newProvider = translator.New
	}
	return o
}

// Translate runs a request with sequential chunk dispatch.
func (o *Orchestrator) Translate(ctx context.Context, req Request) (*Result, error) {
	return o.execute(ctx, req, progress.Discard, false)
}

// TranslateStream runs a request with concurrent chunk dispatch, publishing
// a progress event per chunk and exactly one terminal event to sink.
func (o *Orchestrator) TranslateStream(ctx context.Context, req Request, sink progress.Sink) (*Result, error) {
	if sink == nil {
		sink = progress.Discard
	}
	res, err := o.execute(ctx, req, sink, true)
	if err != nil {
		info := &progress.ErrorInfo{Kind: string(apperr.KindOf(err)), Message: err.Error()}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			info.Detected = ae.Detected
		}
		sink.Publish(progress.Event{Type: progress.EventError, Timestamp: time.Now().UTC(), Error: info})
		return nil, err
	}
	sink.Publish(progress.Event{
		Type:      progress.EventComplete,
		RequestID: res.RequestID,
		Timestamp: time.Now().UTC(),
		Result:    &res.Contract,
	})
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, req Request, sink progress.Sink, async bool) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r, err := o.newRun(ctx, req, sink)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	r.warm(ctx)
	chunks := r.plan()
	r.publishStart()
	r.log.Info("request warmed",
		"blocks", len(r.blocks),
		"cache_hits", r.stats.CacheHits,
		"glossary_hits", r.stats.GlossaryHits,
		"tm_hits", r.stats.TMHits,
		"pending", r.stats.Pending,
		"chunks", len(chunks))

	r.async = async
	if async {
		err = r.dispatchAsync(ctx, chunks)
	} else {
		err = r.dispatchSync(ctx, chunks)
	}
	if err != nil {
		r.log.Error("request failed", "error", err, "elapsed", time.Since(start))
		return nil, err
	}

	res := r.result()
	r.log.Info("request completed",
		"provider_calls", res.Stats.ProviderCalls,
		"fallbacks", res.Stats.Fallbacks,
		"tokens", res.Usage.Total(),
		"elapsed", time.Since(start))
	return res, nil
}

// run is the state of one request.
type run struct {
	o        *Orchestrator
	id       string
	log      *slog.Logger
	provider translator.Provider
	sink     progress.Sink
	req      Request

	rc              internal.RequestContext
	target          string
	sourceLang      string
	explicitSource  bool
	secondary       string
	bilingual       bool
	domain          string
	useTM           bool
	threshold       float64
	usePlaceholders bool
	format          translator.Format
	strategy        chunker.Strategy
	async           bool

	blocks    []internal.Block
	preferred []internal.PreferredTerm
	preserve  []internal.PreserveTerm
	completed map[string]bool
	paired    map[int]bool
	hints     map[int]string
	pending   []int
	groups    map[string][]int

	mu    sync.Mutex
	slots []*string
	memo  map[string]string
	stats Stats
	usage internal.Usage
}

func (o *Orchestrator) newRun(ctx context.Context, req Request, sink progress.Sink) (*run, error) {
	name := strings.ToLower(req.Provider)
	if name == "" {
		name = o.cfg.Provider
	}
	svc := o.cfg.Service(name)
	if req.Model != "" {
		svc.Model = req.Model
	}
	if req.APIKey != "" {
		svc.APIKey = req.APIKey
	}
	if req.BaseURL != "" {
		svc.BaseURL = req.BaseURL
	}
	if !translator.HasCredentials(name, svc) {
		if !o.cfg.FallbackOnError {
			return nil, apperr.New(apperr.KindConfig, "provider %s has no credentials", name)
		}
		o.logger.Info("provider has no credentials, using identity translator", "provider", name)
		name = "mock"
	}
	p, err := o.newProvider(name, svc)
	if err != nil {
		return nil, err
	}

	r := &run{
		o:         o,
		id:        uuid.NewString(),
		provider:  p,
		sink:      sink,
		req:       req,
		target:    detector.Normalize(req.TargetLanguage),
		useTM:     o.cfg.UseTM,
		threshold: o.cfg.SimilarityThreshold,
		strategy:  chunker.Strategy(o.cfg.ContextStrategy),
		blocks:    append([]internal.Block(nil), req.Blocks...),
		completed: make(map[string]bool, len(req.CompletedIDs)),
		paired:    map[int]bool{},
		hints:     map[int]string{},
		groups:    map[string][]int{},
		memo:      map[string]string{},
	}
	r.slots = make([]*string, len(r.blocks))
	r.stats.Blocks = len(r.blocks)
	if req.UseTM != nil {
		r.useTM = *req.UseTM
	}
	if req.SimilarityThreshold > 0 {
		r.threshold = req.SimilarityThreshold
	}
	for _, id := range req.CompletedIDs {
		r.completed[id] = true
	}
	r.usePlaceholders = p.Name() != "ollama"
	r.format = translator.FormatJSON
	if p.Name() == "ollama" {
		r.format = translator.FormatFramed
	}

	texts := make([]string, len(r.blocks))
	for i, b := range r.blocks {
		texts[i] = b.SourceText
	}
	doc := o.det.DetectDocument(texts)
	source := req.SourceLanguage
	if source == "" {
		source = o.cfg.SourceLanguage
	}
	switch {
	case !isAuto(source):
		r.sourceLang, r.explicitSource = detector.Normalize(source), true
	case doc.Primary != "":
		r.sourceLang = doc.Primary
	default:
		r.sourceLang = "auto"
	}
	r.secondary, r.bilingual = doc.Secondary, doc.Bilingual()

	r.domain = req.Domain
	if r.domain == "" {
		r.domain = detectDomain(texts)
	}
	r.rc = internal.RequestContext{
		Provider:       p.Name(),
		Model:          p.Model(),
		TargetLanguage: r.target,
		SourceLanguage: r.sourceLang,
		Tone:           req.Tone,
		VisionContext:  req.VisionContext,
		Domain:         r.domain,
		Category:       req.Category,
		ScopeType:      req.ScopeType,
		ScopeID:        req.ScopeID,
	}
	r.log = o.logger.With("request_id", r.id, "provider", p.Name(), "model", p.Model(), "target", r.target)

	if r.preferred, err = o.terms.Load(ctx, r.sourceLang, r.target, terms.Scope{Type: req.ScopeType, ID: req.ScopeID}); err != nil {
		r.log.Warn("preferred terms unavailable", "error", err)
	}
	if r.preserve, err = o.terms.Preserve(ctx); err != nil {
		r.log.Warn("preserve terms unavailable", "error", err)
	}
	if r.explicitSource {
		r.align()
	}
	return r, nil
}

func (r *run) count(fn func(s *Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *run) fill(i int, text string) {
	r.mu.Lock()
	r.slots[i] = &text
	r.mu.Unlock()
}

func (r *run) cacheKey(source string) string {
	return store.CacheKey(source, r.target, r.rc)
}

func (r *run) isCompleted(b internal.Block) bool {
	if b.ClientID != "" && r.completed[b.ClientID] {
		return true
	}
	return r.completed[b.Key()]
}

// warm fills every slot that needs no provider call and queues the rest.
func (r *run) warm(ctx context.Context) {
	for i, b := range r.blocks {
		src := b.SourceText
		if r.paired[i] {
			r.fill(i, src)
			continue
		}
		if strings.TrimSpace(src) == "" {
			r.fill(i, "")
			r.stats.Empty++
			continue
		}
		if _, ok := terms.MatchPreserve(src, r.preserve); ok {
			r.fill(i, src)
			r.stats.Preserved++
			continue
		}

		resumed := r.isCompleted(b) && !r.req.Refresh
		if resumed && b.TranslatedText != "" {
			r.fill(i, b.TranslatedText)
			r.stats.Resumed++
			continue
		}
		if !r.req.Refresh {
			if text, ok := r.lookup(ctx, src); ok {
				r.fill(i, text)
				if resumed {
					r.stats.Resumed++
				}
				continue
			}
		}
		if resumed {
			r.log.Warn("completed block has no stored translation, re-queued", "block", b.Key())
		}
		r.pending = append(r.pending, i)
	}
}

// lookup tries the in-request cache, the translation cache, the glossary
// and the TM, in that order.
func (r *run) lookup(ctx context.Context, src string) (string, bool) {
	key := r.cacheKey(src)
	if text, ok := r.memo[key]; ok {
		r.stats.CacheHits++
		return text, true
	}

	remember := func(text string) (string, bool) {
		r.memo[key] = text
		return text, true
	}

	if text, ok, err := r.o.store.GetCache(ctx, key); err != nil {
		r.log.Warn("cache lookup failed", "error", err)
	} else if ok {
		r.stats.CacheHits++
		return remember(text)
	}

	if g, ok, err := r.o.store.LookupGlossary(ctx, r.sourceLang, r.target, src); err != nil {
		r.log.Warn("glossary lookup failed", "error", err)
	} else if ok {
		r.stats.GlossaryHits++
		r.o.recorder.Lookup(ctx, store.EventLookupHitGlossary, r.rc, src, g.TargetText, g.ID)
		return remember(g.TargetText)
	}

	if r.useTM {
		q := store.TMQuery{SourceLang: r.sourceLang, TargetLang: r.target, SourceText: src, Context: r.rc.Subset()}
		if r.o.cfg.FuzzyTM {
			q.Similarity, q.Threshold = store.SimilarityByName(r.o.cfg.FuzzyMetric), r.threshold
		}
		e, ok, err := r.o.store.LookupTM(ctx, q)
		switch {
		case err != nil:
			r.log.Warn("tm lookup failed", "error", err)
		case ok && terms.Covers(src, e.TargetText, r.preferred):
			r.stats.TMHits++
			r.o.recorder.Lookup(ctx, store.EventLookupHitTM, r.rc, src, e.TargetText, e.ID)
			return remember(e.TargetText)
		case ok:
			r.log.Debug("tm hit misses preferred terms, discarded", "tm_id", e.ID)
			r.o.recorder.RecordWrongSuggestion(ctx, src, e.TargetText, r.rc.ScopeType, r.rc.ScopeID)
		}
	}

	r.o.recorder.Lookup(ctx, store.EventLookupMiss, r.rc, src, "", 0)
	return "", false
}

// plan deduplicates pending blocks by cache key and splits them into chunks.
func (r *run) plan() []*chunk {
	var reps []int
	for _, i := range r.pending {
		key := r.cacheKey(r.blocks[i].SourceText)
		if _, ok := r.groups[key]; !ok {
			reps = append(reps, i)
		}
		r.groups[key] = append(r.groups[key], i)
	}
	r.stats.Pending = len(r.pending)
	r.stats.Deduplicated = len(r.pending) - len(reps)

	size := r.o.cfg.ChunkSize
	if size <= 0 {
		size = chunker.DefaultSize(r.provider.Name())
	}
	split := chunker.Split(reps, size, r.o.cfg.SingleRequest)
	chunks := make([]*chunk, len(split))
	for k, indices := range split {
		chunks[k] = r.newChunk(k+1, indices)
	}
	r.stats.Chunks = len(chunks)
	return chunks
}

func (r *run) publishStart() {
	e := progress.Event{
		Type:         progress.EventProgress,
		RequestID:    r.id,
		TotalPending: r.stats.Pending,
		Timestamp:    time.Now().UTC(),
	}
	r.mu.Lock()
	for i, s := range r.slots {
		if s == nil {
			continue
		}
		e.CompletedIndices = append(e.CompletedIndices, i)
		cid := r.blocks[i].ClientID
		if cid != "" {
			e.CompletedIDs = append(e.CompletedIDs, cid)
		}
		e.CompletedBlocks = append(e.CompletedBlocks, progress.CompletedBlock{Index: i, ClientID: cid, TranslatedText: *s})
	}
	r.mu.Unlock()
	r.sink.Publish(e)
}

func (r *run) dispatchSync(ctx context.Context, chunks []*chunk) error {
	for k, c := range chunks {
		if k > 0 && r.o.cfg.ChunkDelay > 0 {
			if err := sleep(ctx, r.o.cfg.ChunkDelay); err != nil {
				return err
			}
		}
		if err := r.runChunk(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) dispatchAsync(ctx context.Context, chunks []*chunk) error {
	limit := r.o.cfg.MaxConcurrency
	if r.provider.Name() == "ollama" || limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return r.runChunk(gctx, c)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// runChunk translates one chunk under the per-task timeout and applies the
// result, falling back to the identity translation when allowed.
func (r *run) runChunk(ctx context.Context, c *chunk) error {
	taskCtx, cancel := context.WithTimeout(ctx, r.o.cfg.RequestTimeout)
	blocks, err := r.translateChunk(taskCtx, c)
	cancel()
	if err == nil {
		r.apply(ctx, c, blocks, false)
		return nil
	}
	if !r.canFallback(ctx, err) {
		r.log.Error("chunk failed", "chunk", c.index, "error", err)
		return err
	}
	r.log.Info("chunk failed, passing source through", "chunk", c.index, "error", err)
	r.count(func(s *Stats) { s.Fallbacks++ })
	originals := make([]internal.Block, len(c.indices))
	for k, i := range c.indices {
		originals[k] = r.blocks[i]
	}
	r.apply(ctx, c, translator.Identity(originals), true)
	return nil
}

func (r *run) canFallback(ctx context.Context, err error) bool {
	if !r.o.cfg.FallbackOnError || r.provider.Name() == "mock" || ctx.Err() != nil {
		return false
	}
	switch apperr.KindOf(err) {
	case apperr.KindLanguageMismatch, apperr.KindVisionUnsupported, apperr.KindConfig:
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func (r *run) addUsage(u internal.Usage) {
	if u.Total() == 0 {
		return
	}
	r.mu.Lock()
	r.usage = r.usage.Add(u)
	r.mu.Unlock()
	r.o.recorder.RecordUsage(r.provider.Name(), r.provider.Model(), u)
}

func (r *run) result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.sourceLang
	if doc == "" {
		doc = "auto"
	}
	return &Result{
		RequestID: r.id,
		Provider:  r.provider.Name(),
		Model:     r.provider.Model(),
		Contract: internal.Contract{
			DocumentLanguage: doc,
			TargetLanguage:   r.req.TargetLanguage,
			Blocks:           r.finalize(),
		},
		Stats: r.stats,
		Usage: r.usage,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
