package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

type EventType string

const (
	EventLookupHitTM        EventType = "lookup_hit_tm"
	EventLookupHitGlossary  EventType = "lookup_hit_glossary"
	EventLookupMiss         EventType = "lookup_miss"
	EventOverwrite          EventType = "overwrite"
	EventPromote            EventType = "promote"
	EventAutoPromotionError EventType = "auto_promotion_error"
	EventWrongSuggestion    EventType = "wrong_suggestion"
)

// LearningEvent is one row of learning_events.
type LearningEvent struct {
	ID         string
	Type       EventType
	EntityType string
	EntityID   string
	ScopeType  string
	ScopeID    string
	SourceText string
	TargetText string
	Detail     string
	CreatedAt  time.Time
}

const dayLayout = "2006-01-02"

// Day formats t as the UTC calendar day used to bucket events.
func Day(t time.Time) string { return t.UTC().Format(dayLayout) }

func (s *Store) InsertEvent(ctx context.Context, e LearningEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	_, err := s.exec(ctx, s.sq.Insert("learning_events").
		Columns("id", "event_type", "entity_type", "entity_id", "scope_type", "scope_id",
			"source_text", "target_text", "detail", "day", "created_at").
		Values(e.ID, string(e.Type), e.EntityType, e.EntityID, e.ScopeType, e.ScopeID,
			e.SourceText, e.TargetText, e.Detail, Day(e.CreatedAt), e.CreatedAt.UTC()))
	return err
}

// ListEvents returns events of the given type (all when empty), newest first.
func (s *Store) ListEvents(ctx context.Context, eventType EventType, limit uint64) ([]LearningEvent, error) {
	b := s.sq.Select("id", "event_type", "entity_type", "entity_id", "scope_type", "scope_id",
		"source_text", "target_text", "detail", "created_at").
		From("learning_events").
		OrderBy("created_at DESC")
	if eventType != "" {
		b = b.Where(sq.Eq{"event_type": string(eventType)})
	}
	if limit > 0 {
		b = b.Limit(limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LearningEvent
	for rows.Next() {
		var e LearningEvent
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.EntityType, &e.EntityID, &e.ScopeType, &e.ScopeID,
			&e.SourceText, &e.TargetText, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

// IncrementFeedback bumps correction_count for the pair and returns the new
// count.
func (s *Store) IncrementFeedback(ctx context.Context, sourceText, targetText, sourceLang, targetLang string) (int, error) {
	sourceText, targetText = normalizeText(sourceText), normalizeText(targetText)
	if sourceText == "" || targetText == "" {
		return 0, fmt.Errorf("feedback needs source and target text")
	}
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t := now()
		return tx.QueryRowContext(ctx, `
			INSERT INTO term_feedback (source_text, target_text, source_lang, target_lang, correction_count, last_corrected_at, created_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(source_text, target_text, source_lang, target_lang) DO UPDATE SET
				correction_count = term_feedback.correction_count + 1,
				last_corrected_at = excluded.last_corrected_at
			RETURNING correction_count`,
			sourceText, targetText, sourceLang, targetLang, t, t).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("record feedback: %w", err)
	}
	return count, nil
}

// DailyStats is one row of learning_stats.
type DailyStats struct {
	Day                    string
	TMHits                 int
	GlossaryHits           int
	Misses                 int
	Overwrites             int
	Promotions             int
	AutoPromotionErrors    int
	WrongSuggestions       int
	TMHitRate              float64
	GlossaryHitRate        float64
	OverwriteRate          float64
	AutoPromotionErrorRate float64
	WrongSuggestionRate    float64
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Rollup aggregates the events of day into learning_stats, replacing any
// previous row for that day.
func (s *Store) Rollup(ctx context.Context, day time.Time) (DailyStats, error) {
	st := DailyStats{Day: Day(day)}
	query, args, err := s.sq.Select("event_type", "COUNT(*)").
		From("learning_events").
		Where(sq.Eq{"day": st.Day}).
		GroupBy("event_type").
		ToSql()
	if err != nil {
		return st, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return st, err
		}
		switch EventType(typ) {
		case EventLookupHitTM:
			st.TMHits = n
		case EventLookupHitGlossary:
			st.GlossaryHits = n
		case EventLookupMiss:
			st.Misses = n
		case EventOverwrite:
			st.Overwrites = n
		case EventPromote:
			st.Promotions = n
		case EventAutoPromotionError:
			st.AutoPromotionErrors = n
		case EventWrongSuggestion:
			st.WrongSuggestions = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	lookups := st.TMHits + st.GlossaryHits + st.Misses
	suggestions := st.TMHits + st.GlossaryHits
	st.TMHitRate = ratio(st.TMHits, lookups)
	st.GlossaryHitRate = ratio(st.GlossaryHits, lookups)
	st.OverwriteRate = ratio(st.Overwrites, suggestions)
	st.AutoPromotionErrorRate = ratio(st.AutoPromotionErrors, st.Promotions+st.AutoPromotionErrors)
	st.WrongSuggestionRate = ratio(st.WrongSuggestions, suggestions)

	_, err = s.exec(ctx, s.sq.Insert("learning_stats").
		Columns("day", "tm_hits", "glossary_hits", "misses", "overwrites", "promotions", "auto_promotion_errors",
			"wrong_suggestions", "tm_hit_rate", "glossary_hit_rate", "overwrite_rate", "auto_promotion_error_rate",
			"wrong_suggestion_rate", "updated_at").
		Values(st.Day, st.TMHits, st.GlossaryHits, st.Misses, st.Overwrites, st.Promotions, st.AutoPromotionErrors,
			st.WrongSuggestions, st.TMHitRate, st.GlossaryHitRate, st.OverwriteRate, st.AutoPromotionErrorRate,
			st.WrongSuggestionRate, now()).
		Options("OR REPLACE"))
	if err != nil {
		return st, fmt.Errorf("save daily stats: %w", err)
	}
	return st, nil
}

// ListStats returns stored daily statistics, newest day first.
func (s *Store) ListStats(ctx context.Context, limit uint64) ([]DailyStats, error) {
	b := s.sq.Select("day", "tm_hits", "glossary_hits", "misses", "overwrites", "promotions", "auto_promotion_errors",
		"wrong_suggestions", "tm_hit_rate", "glossary_hit_rate", "overwrite_rate", "auto_promotion_error_rate",
		"wrong_suggestion_rate").
		From("learning_stats").
		OrderBy("day DESC")
	if limit > 0 {
		b = b.Limit(limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var st DailyStats
		if err := rows.Scan(&st.Day, &st.TMHits, &st.GlossaryHits, &st.Misses, &st.Overwrites, &st.Promotions,
			&st.AutoPromotionErrors, &st.WrongSuggestions, &st.TMHitRate, &st.GlossaryHitRate, &st.OverwriteRate,
			&st.AutoPromotionErrorRate, &st.WrongSuggestionRate); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
