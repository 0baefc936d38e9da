package store

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/valpere/doctran/internal"
)

// PreserveGeneration changes whenever the preserve-term list is written, so
// caches can detect writes that do not touch the database file mtime.
func (s *Store) PreserveGeneration() uint64 { return s.preserveGen.Load() }

func (s *Store) AddPreserveTerm(ctx context.Context, term, category string, caseSensitive bool) (int64, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return 0, fmt.Errorf("preserve term is empty")
	}
	query, args, err := s.sq.Insert("preserve_terms").
		Columns("term", "category", "case_sensitive", "created_at").
		Values(term, category, caseSensitive, now()).
		Suffix("ON CONFLICT(term) DO UPDATE SET category = excluded.category, case_sensitive = excluded.case_sensitive RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("add preserve term: %w", err)
	}
	s.preserveGen.Add(1)
	return id, nil
}

func (s *Store) ListPreserveTerms(ctx context.Context) ([]internal.PreserveTerm, error) {
	query, args, err := s.sq.Select("id", "term", "category", "case_sensitive").
		From("preserve_terms").
		OrderBy("term").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.PreserveTerm
	for rows.Next() {
		var p internal.PreserveTerm
		if err := rows.Scan(&p.ID, &p.Term, &p.Category, &p.CaseSensitive); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePreserveTerm(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, s.sq.Delete("preserve_terms").Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.preserveGen.Add(1)
	return nil
}

// isPreserved reports whether text is exactly one of the preserve terms.
func (s *Store) isPreserved(ctx context.Context, text string) (bool, error) {
	terms, err := s.ListPreserveTerms(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range terms {
		if p.Matches(text) {
			return true, nil
		}
	}
	return false, nil
}
