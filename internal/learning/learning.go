// Package learning records how translation suggestions perform and turns
// repeated user corrections into glossary entries.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/store"
)

const (
	// PromotionThreshold is the correction count that promotes a pair to
	// the glossary.
	PromotionThreshold = 3

	originFeedback = "feedback"
)

// Store is the persistence the recorder writes through.
type Store interface {
	InsertEvent(ctx context.Context, e store.LearningEvent) error
	IncrementFeedback(ctx context.Context, sourceText, targetText, sourceLang, targetLang string) (int, error)
	UpsertGlossary(ctx context.Context, e store.GlossaryEntry) (int64, error)
	SaveTM(ctx context.Context, e store.TMEntry) (store.SaveResult, error)
	TagTM(ctx context.Context, tmID int64, category string) error
	OverrideTM(ctx context.Context, id int64, targetText string) (*store.TMEntry, error)
	Rollup(ctx context.Context, day time.Time) (store.DailyStats, error)
}

type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	usage map[string]internal.Usage
}

func New(s Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, logger: logger, now: time.Now, usage: map[string]internal.Usage{}}
}

// Record writes an event. Failures are logged and otherwise ignored so
// bookkeeping never fails a translation.
func (r *Recorder) Record(ctx context.Context, e store.LearningEvent) {
	if err := r.store.InsertEvent(ctx, e); err != nil {
		r.logger.Warn("learning event not recorded", "event", e.Type, "error", err)
	}
}

// Lookup records the outcome of a cache-warming lookup for one block.
func (r *Recorder) Lookup(ctx context.Context, typ store.EventType, rc internal.RequestContext, source, target string, entityID int64) {
	e := store.LearningEvent{
		Type:       typ,
		ScopeType:  rc.ScopeType,
		ScopeID:    rc.ScopeID,
		SourceText: source,
		TargetText: target,
	}
	switch typ {
	case store.EventLookupHitTM:
		e.EntityType = "tm"
	case store.EventLookupHitGlossary:
		e.EntityType = "glossary"
	}
	if entityID > 0 {
		e.EntityID = strconv.FormatInt(entityID, 10)
	}
	r.Record(ctx, e)
}

// SaveTM stores a translated pair and tags it with category. A pair
// rejected by the quality rules is logged as auto_promotion_error.
func (r *Recorder) SaveTM(ctx context.Context, e store.TMEntry, category string) (store.SaveResult, error) {
	res, err := r.store.SaveTM(ctx, e)
	if err != nil {
		return res, err
	}
	switch res.Outcome {
	case store.SaveRejected:
		r.logger.Warn("tm pair rejected", "source", e.SourceText, "target", e.TargetText, "reason", res.Reason)
		r.Record(ctx, store.LearningEvent{
			Type:       store.EventAutoPromotionError,
			EntityType: "tm",
			ScopeType:  e.ScopeType,
			ScopeID:    e.ScopeID,
			SourceText: e.SourceText,
			TargetText: e.TargetText,
			Detail:     res.Reason,
		})
	case store.SaveInserted, store.SaveUpdated:
		if category != "" {
			if err := r.store.TagTM(ctx, res.ID, category); err != nil {
				return res, fmt.Errorf("tag tm %d: %w", res.ID, err)
			}
		}
	}
	return res, nil
}

// Feedback is the outcome of a term correction.
type Feedback struct {
	Count      int
	Promoted   bool
	GlossaryID int64
}

// RecordTermFeedback counts a user correction of source to target. From
// the PromotionThreshold-th correction on the pair is upserted into the
// glossary at promotion priority. Preserve terms are counted but never
// promoted.
func (r *Recorder) RecordTermFeedback(ctx context.Context, source, target, sourceLang, targetLang string) (Feedback, error) {
	count, err := r.store.IncrementFeedback(ctx, source, target, sourceLang, targetLang)
	if err != nil {
		return Feedback{}, err
	}
	fb := Feedback{Count: count}
	if count < PromotionThreshold {
		return fb, nil
	}

	id, err := r.store.UpsertGlossary(ctx, store.GlossaryEntry{
		SourceLang: sourceLang,
		TargetLang: targetLang,
		SourceText: source,
		TargetText: target,
		Priority:   store.PromotionPriority,
		Origin:     originFeedback,
	})
	if err != nil {
		r.Record(ctx, store.LearningEvent{
			Type:       store.EventAutoPromotionError,
			EntityType: "glossary",
			SourceText: source,
			TargetText: target,
			Detail:     err.Error(),
		})
		if errors.Is(err, store.ErrPreserved) {
			r.logger.Info("preserve term not promoted", "source", source, "corrections", count)
			return fb, nil
		}
		return fb, fmt.Errorf("promote %q: %w", source, err)
	}
	fb.Promoted, fb.GlossaryID = true, id
	r.Record(ctx, store.LearningEvent{
		Type:       store.EventPromote,
		EntityType: "glossary",
		EntityID:   strconv.FormatInt(id, 10),
		SourceText: source,
		TargetText: target,
		Detail:     "correction_count=" + strconv.Itoa(count),
	})
	r.logger.Info("term promoted to glossary", "source", source, "target", target, "corrections", count)
	return fb, nil
}

// RecordOverride applies a user edit to a TM entry and counts it as a
// correction of the pair.
func (r *Recorder) RecordOverride(ctx context.Context, tmID int64, target string) (*store.TMEntry, Feedback, error) {
	e, err := r.store.OverrideTM(ctx, tmID, target)
	if err != nil {
		return nil, Feedback{}, err
	}
	r.Record(ctx, store.LearningEvent{
		Type:       store.EventOverwrite,
		EntityType: "tm",
		EntityID:   strconv.FormatInt(tmID, 10),
		ScopeType:  e.ScopeType,
		ScopeID:    e.ScopeID,
		SourceText: e.SourceText,
		TargetText: target,
	})
	fb, err := r.RecordTermFeedback(ctx, e.SourceText, target, e.SourceLang, e.TargetLang)
	return e, fb, err
}

// RecordWrongSuggestion notes that a suggested translation was rejected.
func (r *Recorder) RecordWrongSuggestion(ctx context.Context, source, suggested, scopeType, scopeID string) {
	r.Record(ctx, store.LearningEvent{
		Type:       store.EventWrongSuggestion,
		ScopeType:  scopeType,
		ScopeID:    scopeID,
		SourceText: source,
		TargetText: suggested,
	})
}

// RecordUsage accumulates token usage per provider and model.
func (r *Recorder) RecordUsage(provider, model string, u internal.Usage) {
	if u.Total() == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := provider + "/" + model
	r.usage[key] = r.usage[key].Add(u)
}

// UsageEntry is the accumulated usage of one provider/model pair.
type UsageEntry struct {
	Key   string
	Usage internal.Usage
}

// Usage returns the accumulated usage sorted by key.
func (r *Recorder) Usage() []UsageEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UsageEntry, 0, len(r.usage))
	for k, u := range r.usage {
		out = append(out, UsageEntry{Key: k, Usage: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *Recorder) Rollup(ctx context.Context, day time.Time) (store.DailyStats, error) {
	return r.store.Rollup(ctx, day)
}

// RunRollups recomputes yesterday's and today's statistics immediately and
// then every interval until ctx is done.
func (r *Recorder) RunRollups(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		today := r.now().UTC()
		for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
			st, err := r.store.Rollup(ctx, day)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("stats rollup failed", "day", store.Day(day), "error", err)
				continue
			}
			r.logger.Debug("stats rolled up", "day", st.Day, "tm_hit_rate", st.TMHitRate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
