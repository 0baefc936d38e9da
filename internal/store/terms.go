package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// UnifiedTerm is a concept in the term repository with one value per
// language. It is the single authoritative source that projections such as
// the glossary are derived from.
type UnifiedTerm struct {
	ID       int64             `json:"id"`
	Term     string            `json:"term"`
	Category string            `json:"category,omitempty"`
	Priority int               `json:"priority"`
	Values   map[string]string `json:"values"`
	Aliases  []string          `json:"aliases,omitempty"`
	Version  int               `json:"version"`
}

// TermListener observes committed term changes.
type TermListener func(ctx context.Context, t UnifiedTerm) error

// OnTermChange registers l to run after every committed UpsertTerm.
func (s *Store) OnTermChange(l TermListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

func termNorm(s string) string {
	return strings.ToLower(normalizeText(s))
}

// UpsertTerm writes a term with its language values and aliases and appends
// a version snapshot, all in one transaction, then notifies listeners.
func (s *Store) UpsertTerm(ctx context.Context, t UnifiedTerm) (UnifiedTerm, error) {
	t.Term = normalizeText(t.Term)
	if t.Term == "" {
		return t, fmt.Errorf("term is empty")
	}
	if t.Priority == 0 {
		t.Priority = DefaultGlossaryPriority
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ts := now()
		var catID sql.NullInt64
		if c := strings.TrimSpace(t.Category); c != "" {
			id, err := ensureCategory(ctx, tx, c)
			if err != nil {
				return err
			}
			catID = sql.NullInt64{Int64: id, Valid: true}
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO terms (term, term_norm, category_id, priority, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(term_norm) DO UPDATE SET
				term = excluded.term,
				category_id = excluded.category_id,
				priority = excluded.priority,
				updated_at = excluded.updated_at
			RETURNING id`,
			t.Term, termNorm(t.Term), catID, t.Priority, ts, ts).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("upsert term: %w", err)
		}

		for lang, value := range t.Values {
			value = normalizeText(value)
			if lang == "" || value == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO term_languages (term_id, lang_code, value) VALUES (?, ?, ?)
				ON CONFLICT(term_id, lang_code) DO UPDATE SET value = excluded.value`,
				t.ID, lang, value); err != nil {
				return fmt.Errorf("upsert term language: %w", err)
			}
		}
		for _, alias := range t.Aliases {
			if alias = normalizeText(alias); alias == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO term_aliases (term_id, alias, alias_norm) VALUES (?, ?, ?)`,
				t.ID, alias, termNorm(alias)); err != nil {
				return fmt.Errorf("add term alias: %w", err)
			}
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM term_versions WHERE term_id = ?`, t.ID).Scan(&t.Version); err != nil {
			return err
		}
		snapshot, err := loadTermTx(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		snapshot.Version = t.Version
		raw, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO term_versions (term_id, version, snapshot, created_at) VALUES (?, ?, ?, ?)`,
			t.ID, t.Version, string(raw), ts)
		t = snapshot
		return err
	})
	if err != nil {
		return t, err
	}

	s.lmu.RLock()
	listeners := append([]TermListener(nil), s.listeners...)
	s.lmu.RUnlock()
	var errs []error
	for _, l := range listeners {
		if err := l(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return t, errors.Join(errs...)
}

func loadTermTx(ctx context.Context, tx *sql.Tx, id int64) (UnifiedTerm, error) {
	t := UnifiedTerm{ID: id, Values: map[string]string{}}
	var category sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT t.term, t.priority, c.name FROM terms t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.id = ?`, id).Scan(&t.Term, &t.Priority, &category)
	if err != nil {
		return t, err
	}
	t.Category = category.String

	rows, err := tx.QueryContext(ctx, `SELECT lang_code, value FROM term_languages WHERE term_id = ?`, id)
	if err != nil {
		return t, err
	}
	for rows.Next() {
		var lang, value string
		if err := rows.Scan(&lang, &value); err != nil {
			rows.Close()
			return t, err
		}
		t.Values[lang] = value
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx, `SELECT alias FROM term_aliases WHERE term_id = ? ORDER BY alias`, id)
	if err != nil {
		return t, err
	}
	defer rows.Close()
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return t, err
		}
		t.Aliases = append(t.Aliases, alias)
	}
	return t, rows.Err()
}

// ListUnifiedTerms returns terms that carry a value for lang (all terms when
// lang is empty), highest priority first.
func (s *Store) ListUnifiedTerms(ctx context.Context, lang string) ([]UnifiedTerm, error) {
	b := s.sq.Select("t.id", "t.term", "t.priority", "COALESCE(c.name, '')", "tl.lang_code", "tl.value").
		From("terms t").
		LeftJoin("categories c ON c.id = t.category_id").
		Join("term_languages tl ON tl.term_id = t.id").
		OrderBy("t.priority DESC", "t.id")
	if lang != "" {
		b = b.Where(sq.Expr("t.id IN (SELECT term_id FROM term_languages WHERE lang_code = ?)", lang))
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

	byID := map[int64]*UnifiedTerm{}
	var order []int64
	for rows.Next() {
		var id int64
		var term, category, code, value string
		var priority int
		if err := rows.Scan(&id, &term, &priority, &category, &code, &value); err != nil {
			return nil, err
		}
		t, ok := byID[id]
		if !ok {
			t = &UnifiedTerm{ID: id, Term: term, Priority: priority, Category: category, Values: map[string]string{}}
			byID[id] = t
			order = append(order, id)
		}
		t.Values[code] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]UnifiedTerm, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// TermVersions returns the stored snapshots of a term, oldest first.
func (s *Store) TermVersions(ctx context.Context, termID int64) ([]UnifiedTerm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot FROM term_versions WHERE term_id = ? ORDER BY version`, termID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnifiedTerm
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var t UnifiedTerm
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode term version: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
