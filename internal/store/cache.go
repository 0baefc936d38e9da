package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/valpere/doctran/internal"
)

// CacheKey derives the translation cache key for a source text. Every
// component of the request that changes the output participates, so a
// different provider, model, tone or vision flag never shares a row.
func CacheKey(sourceText, targetLang string, rc internal.RequestContext) string {
	parts := []string{
		normalizeText(sourceText),
		targetLang,
		rc.Provider,
		rc.Model,
		rc.Tone,
		strconv.FormatBool(rc.VisionContext),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (s *Store) GetCache(ctx context.Context, key string) (string, bool, error) {
	query, args, err := s.sq.Select("value").From("translation_cache").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return "", false, err
	}
	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	s.countHit(ctx, s.sq.Update("translation_cache").
		Set("hit_count", sq.Expr("hit_count + 1")).
		Where(sq.Eq{"key": key}))
	return value, true, nil
}

// SetCache stores value under key, replacing any previous value.
func (s *Store) SetCache(ctx context.Context, key, value string) error {
	t := now()
	_, err := s.exec(ctx, s.sq.Insert("translation_cache").
		Columns("key", "value", "hit_count", "created_at", "updated_at").
		Values(key, value, 0, t, t).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"))
	return err
}

// CacheEntry is a row of the translation_cache table.
type CacheEntry struct {
	Key       string
	Value     string
	HitCount  int
	UpdatedAt time.Time
}

// ListCache returns the most recently updated cache rows.
func (s *Store) ListCache(ctx context.Context, limit uint64) ([]CacheEntry, error) {
	b := s.sq.Select("key", "value", "hit_count", "updated_at").
		From("translation_cache").
		OrderBy("updated_at DESC")
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

	var out []CacheEntry
	for rows.Next() {
		var e CacheEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.HitCount, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearCache removes all translation cache rows.
func (s *Store) ClearCache(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, s.sq.Delete("translation_cache"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats summarises the persisted state.
type Stats struct {
	CacheEntries    int
	CacheHits       int
	TMEntries       int
	TMHits          int
	TMOverwrites    int
	GlossaryEntries int
	PreserveTerms   int
	UnifiedTerms    int
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM translation_cache),
			(SELECT COALESCE(SUM(hit_count), 0) FROM translation_cache),
			(SELECT COUNT(*) FROM tm),
			(SELECT COALESCE(SUM(hit_count), 0) FROM tm),
			(SELECT COALESCE(SUM(overwrite_count), 0) FROM tm),
			(SELECT COUNT(*) FROM glossary),
			(SELECT COUNT(*) FROM preserve_terms),
			(SELECT COUNT(*) FROM terms)`).Scan(
		&stats.CacheEntries,
		&stats.CacheHits,
		&stats.TMEntries,
		&stats.TMHits,
		&stats.TMOverwrites,
		&stats.GlossaryEntries,
		&stats.PreserveTerms,
		&stats.UnifiedTerms,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
