package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/apperr"
	"github.com/valpere/doctran/internal/chunker"
	"github.com/valpere/doctran/internal/placeholder"
	"github.com/valpere/doctran/internal/prompt"
	"github.com/valpere/doctran/internal/terms"
	"github.com/valpere/doctran/internal/translator"
	"github.com/valpere/doctran/internal/validator"
)

// chunk is a unit of provider work. blocks hold the placeholder-wrapped
// copies of the request blocks at indices.
type chunk struct {
	index    int
	indices  []int
	blocks   []internal.Block
	mappings []placeholder.Mapping
	tokens   []string
	relevant []internal.PreferredTerm
}

func (r *run) newChunk(index int, indices []int) *chunk {
	c := &chunk{
		index:    index,
		indices:  indices,
		blocks:   make([]internal.Block, len(indices)),
		mappings: make([]placeholder.Mapping, len(indices)),
	}
	texts := make([]string, len(indices))
	for k, i := range indices {
		texts[k] = r.blocks[i].SourceText
	}
	c.relevant = terms.Relevant(r.preferred, texts)

	var phTerms []placeholder.Term
	if r.usePlaceholders {
		phTerms = terms.PlaceholderTerms(c.relevant, r.preserve)
	}
	// Token numbers run across the chunk so each one names a single term
	// in the prompt.
	next := 0
	for k, i := range indices {
		b := r.blocks[i]
		b.TranslatedText, b.CorrectionTemp, b.TempTranslatedText = "", "", ""
		if len(phTerms) > 0 {
			wrapped, m := placeholder.ApplyFrom(b.SourceText, phTerms, next)
			next += len(m)
			b.SourceText, c.mappings[k] = wrapped, m
			c.tokens = append(c.tokens, m.Tokens()...)
		}
		c.blocks[k] = b
	}
	return c
}

func (r *run) contextLines(c *chunk) string {
	lines := []string{}
	if s := chunker.Context(r.strategy, r.blocks, c.indices); s != "" {
		lines = append(lines, s)
	}
	for _, i := range c.indices {
		if hint, ok := r.hints[i]; ok {
			lines = append(lines, fmt.Sprintf("[slide %d, aligned source] %s", r.blocks[i].SlideIndex, chunker.Snippet(hint)))
		}
	}
	return strings.Join(lines, "\n")
}

func (r *run) request(c *chunk, guard *prompt.Guard) (translator.TranslateRequest, error) {
	system, user, err := r.o.prompts.Build(prompt.Input{
		SourceLang:        r.sourceLang,
		TargetLang:        r.target,
		SecondaryLang:     r.secondary,
		Bilingual:         r.bilingual,
		Tone:              r.req.Tone,
		Domain:            r.domain,
		Blocks:            c.blocks,
		PreferredTerms:    c.relevant,
		PlaceholderTokens: c.tokens,
		Context:           r.contextLines(c),
		Guard:             guard,
		Format:            r.format,
	})
	if err != nil {
		return translator.TranslateRequest{}, fmt.Errorf("build prompt for chunk %d: %w", c.index, err)
	}
	return translator.TranslateRequest{
		Blocks:            c.blocks,
		TargetLang:        r.target,
		SourceLang:        r.sourceLang,
		Context:           r.rc,
		PreferredTerms:    c.relevant,
		PlaceholderTokens: c.tokens,
		LanguageHint:      prompt.Hint(r.target),
		Mode:              r.req.Mode,
		System:            system,
		User:              user,
		Format:            r.format,
	}, nil
}

// outcome is the classified result of one provider attempt.
type outcome interface{ isOutcome() }

type (
	chunkOK struct {
		blocks []internal.Block
	}
	// chunkRetry is a transient failure that may succeed on another attempt.
	chunkRetry struct {
		err error
	}
	// chunkRetryLanguage means the answer failed the language guard.
	chunkRetryLanguage struct {
		verdict validator.Verdict
	}
	chunkTerminal struct {
		err error
	}
)

func (chunkOK) isOutcome()            {}
func (chunkRetry) isOutcome()         {}
func (chunkRetryLanguage) isOutcome() {}
func (chunkTerminal) isOutcome()      {}

// attempt makes one provider call and classifies it.
func (r *run) attempt(ctx context.Context, c *chunk, req translator.TranslateRequest) outcome {
	r.count(func(s *Stats) { s.ProviderCalls++ })
	res, err := r.call(ctx, req)
	if res != nil {
		r.addUsage(res.Usage)
	}
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return chunkTerminal{err: err}
		case apperr.KindOf(err) == apperr.KindVisionUnsupported:
			return chunkTerminal{err: fmt.Errorf("model %s cannot read images, choose a vision-capable model: %w", r.provider.Model(), err)}
		case ctx.Err() != nil:
			return chunkTerminal{err: ctx.Err()}
		case apperr.Retryable(err):
			return chunkRetry{err: err}
		}
		return chunkTerminal{err: err}
	}
	if len(res.Blocks) != len(c.indices) {
		return chunkRetry{err: apperr.New(apperr.KindContract, "expected %d blocks, got %d", len(c.indices), len(res.Blocks))}
	}

	if r.provider.Name() == "mock" {
		return chunkOK{blocks: res.Blocks}
	}
	var texts []string
	for k, b := range res.Blocks {
		if r.mode(c.indices[k]) != internal.ModeDirect {
			continue
		}
		texts = append(texts, placeholder.Restore(b.TranslatedText, c.mappings[k]))
	}
	if v := r.o.guard.Check(texts, r.target); !v.Passed() {
		return chunkRetryLanguage{verdict: v}
	}
	return chunkOK{blocks: res.Blocks}
}

// call invokes the provider. Concurrent runs wait on translator.Go so a
// provider that ignores ctx cannot hold a worker past its deadline.
func (r *run) call(ctx context.Context, req translator.TranslateRequest) (*translator.TranslateResult, error) {
	if !r.async {
		return r.provider.Translate(ctx, req)
	}
	select {
	case out := <-translator.Go(ctx, r.provider, req):
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// translateChunk runs the retry policy for one chunk: transient failures
// back off up to MaxRetries, a contract violation is retried once and a
// language mismatch gets one strict-guard retry.
func (r *run) translateChunk(ctx context.Context, c *chunk) ([]internal.Block, error) {
	var guard *prompt.Guard
	req, err := r.request(c, nil)
	if err != nil {
		return nil, err
	}
	retries, contractFailures := 0, 0
	for {
		switch o := r.attempt(ctx, c, req).(type) {
		case chunkOK:
			return o.blocks, nil

		case chunkRetryLanguage:
			if guard != nil {
				return nil, &apperr.Error{
					Kind:     apperr.KindLanguageMismatch,
					Provider: r.provider.Name(),
					Detected: o.verdict.Detected,
					Msg:      fmt.Sprintf("chunk %d: %s", c.index, o.verdict.Diagnostic()),
				}
			}
			guard = &prompt.Guard{Diagnostic: o.verdict.Diagnostic()}
			r.count(func(s *Stats) { s.GuardRetries++ })
			r.log.Warn("language guard rejected chunk, retrying strictly", "chunk", c.index, "detail", guard.Diagnostic)
			if req, err = r.request(c, guard); err != nil {
				return nil, err
			}

		case chunkRetry:
			if apperr.KindOf(o.err) == apperr.KindContract {
				contractFailures++
				if contractFailures > 1 {
					return nil, o.err
				}
			}
			retries++
			if retries > r.o.cfg.MaxRetries {
				return nil, o.err
			}
			r.count(func(s *Stats) { s.Retries++ })
			delay := r.o.backoff(retries, o.err)
			r.log.Debug("retrying chunk", "chunk", c.index, "attempt", retries, "delay", delay, "error", o.err)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}

		case chunkTerminal:
			return nil, o.err
		}
	}
}

// backoff is min(retry_backoff × attempt, retry_max_backoff) plus jitter,
// never less than a server-requested Retry-After.
func (o *Orchestrator) backoff(attempt int, err error) time.Duration {
	d := o.cfg.RetryBackoff * time.Duration(attempt)
	if limit := o.cfg.RetryMaxBackoff; limit > 0 && d > limit {
		d = limit
	}
	if ra := apperr.RetryAfterOf(err); ra > d {
		d = ra
	}
	if j := o.cfg.RetryJitter; j > 0 {
		d += rand.N(j)
	}
	return d
}
