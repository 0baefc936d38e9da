package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// PromotionPriority is the glossary priority given to promoted corrections.
const PromotionPriority = 10

// DefaultGlossaryPriority applies to manual entries without a priority.
const DefaultGlossaryPriority = 5

// ErrPreserved rejects a glossary write whose source is a preserve term.
var ErrPreserved = errors.New("source text is a preserve term")

// GlossaryEntry represents a row in the glossary table.
type GlossaryEntry struct {
	ID             int64
	SourceLang     string
	TargetLang     string
	SourceText     string
	TargetText     string
	ScopeType      string
	ScopeID        string
	Priority       int
	Origin         string
	HitCount       int
	OverwriteCount int
	LastHitAt      *time.Time
	CreatedAt      time.Time
}

// UpsertGlossary inserts a glossary entry or updates the existing row for
// (source_lang, target_lang, source_text). A changed target counts as an
// overwrite. The stored priority never decreases. A source matching a
// preserve term is refused with ErrPreserved.
func (s *Store) UpsertGlossary(ctx context.Context, e GlossaryEntry) (int64, error) {
	e.SourceText = normalizeText(e.SourceText)
	if e.SourceText == "" || e.TargetText == "" {
		return 0, fmt.Errorf("glossary entry needs source and target text")
	}
	if e.Priority == 0 {
		e.Priority = DefaultGlossaryPriority
	}
	if e.Origin == "" {
		e.Origin = "manual"
	}
	t := now()
	hash := TMHash(e.SourceLang, e.TargetLang, e.SourceText, "")
	query, args, err := s.sq.Insert("glossary").
		Columns("hash", "source_lang", "target_lang", "source_text", "target_text", "scope_type", "scope_id",
			"priority", "origin", "created_at", "updated_at").
		Values(hash, e.SourceLang, e.TargetLang, e.SourceText, e.TargetText, e.ScopeType, e.ScopeID,
			e.Priority, e.Origin, t, t).
		Suffix(`ON CONFLICT(source_lang, target_lang, source_text) DO UPDATE SET
			overwrite_count = glossary.overwrite_count + (glossary.target_text <> excluded.target_text),
			target_text = excluded.target_text,
			priority = MAX(glossary.priority, excluded.priority),
			origin = excluded.origin,
			updated_at = excluded.updated_at
			RETURNING id`).
		ToSql()
	if err != nil {
		return 0, err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	preserved, err := s.isPreserved(ctx, e.SourceText)
	if err != nil {
		return 0, fmt.Errorf("check preserve terms: %w", err)
	}
	if preserved {
		return 0, fmt.Errorf("%w: %q", ErrPreserved, e.SourceText)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert glossary: %w", err)
	}
	return id, nil
}

// GlossaryExists reports whether a row for the exact pair key exists.
func (s *Store) GlossaryExists(ctx context.Context, sourceLang, targetLang, sourceText string) (bool, error) {
	query, args, err := s.sq.Select("1").From("glossary").
		Where(sq.Eq{"source_lang": sourceLang, "target_lang": targetLang, "source_text": normalizeText(sourceText)}).
		Limit(1).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// LookupGlossary returns the glossary row whose source equals the whole text,
// counting a hit.
func (s *Store) LookupGlossary(ctx context.Context, sourceLang, targetLang, sourceText string) (*GlossaryEntry, bool, error) {
	entries, err := s.listGlossary(ctx, s.glossarySelect().
		Where(sq.Eq{"source_lang": sourceLang, "target_lang": targetLang, "source_text": normalizeText(sourceText)}).
		Limit(1))
	if err != nil {
		return nil, false, err
	}
	if len(entries) == 0 {
		return nil, false, nil
	}
	e := entries[0]
	t := now()
	if s.countHit(ctx, s.sq.Update("glossary").
		Set("hit_count", sq.Expr("hit_count + 1")).
		Set("last_hit_at", t).
		Where(sq.Eq{"id": e.ID})) {
		e.HitCount++
		e.LastHitAt = &t
	}
	return &e, true, nil
}

// GlossaryFilter selects glossary rows. Empty fields do not filter.
type GlossaryFilter struct {
	SourceLang string
	TargetLang string
	ScopeType  string
	ScopeID    string
	Limit      uint64
}

// ListGlossary returns matching rows, highest priority first.
func (s *Store) ListGlossary(ctx context.Context, f GlossaryFilter) ([]GlossaryEntry, error) {
	b := s.glossarySelect()
	cond := sq.Eq{}
	if f.SourceLang != "" {
		cond["source_lang"] = f.SourceLang
	}
	if f.TargetLang != "" {
		cond["target_lang"] = f.TargetLang
	}
	if f.ScopeType != "" {
		cond["scope_type"] = f.ScopeType
	}
	if f.ScopeID != "" {
		cond["scope_id"] = f.ScopeID
	}
	if len(cond) > 0 {
		b = b.Where(cond)
	}
	b = b.OrderBy("priority DESC", "source_lang", "target_lang", "source_text")
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}
	return s.listGlossary(ctx, b)
}

// DeleteGlossary removes a glossary entry by ID.
func (s *Store) DeleteGlossary(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, s.sq.Delete("glossary").Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) glossarySelect() sq.SelectBuilder {
	return s.sq.Select("id", "source_lang", "target_lang", "source_text", "target_text", "scope_type", "scope_id",
		"priority", "origin", "hit_count", "overwrite_count", "last_hit_at", "created_at").
		From("glossary")
}

func (s *Store) listGlossary(ctx context.Context, b sq.SelectBuilder) ([]GlossaryEntry, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []GlossaryEntry
	for rows.Next() {
		var e GlossaryEntry
		var lastHit sql.NullTime
		if err := rows.Scan(&e.ID, &e.SourceLang, &e.TargetLang, &e.SourceText, &e.TargetText, &e.ScopeType, &e.ScopeID,
			&e.Priority, &e.Origin, &e.HitCount, &e.OverwriteCount, &lastHit, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.LastHitAt = nullTime(lastHit)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
