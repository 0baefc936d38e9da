package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	sq "github.com/Masterminds/squirrel"
)

// TMHash identifies a TM row: SHA256(source_lang|target_lang|source_text|context).
func TMHash(sourceLang, targetLang, sourceText, context string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{sourceLang, targetLang, normalizeText(sourceText), context}, "|")))
	return hex.EncodeToString(sum[:])
}

// TMEntry is a row of the tm table.
type TMEntry struct {
	ID             int64
	Hash           string
	SourceLang     string
	TargetLang     string
	SourceText     string
	TargetText     string
	Context        string
	ScopeType      string
	ScopeID        string
	HitCount       int
	OverwriteCount int
	LastHitAt      *time.Time
	CreatedAt      time.Time
}

type TMState string

const (
	TMAccepted   TMState = "accepted"
	TMReinforced TMState = "reinforced"
	TMOverridden TMState = "overridden"
)

// State places the entry in its lifecycle; promotion lives in the glossary.
func (e TMEntry) State() TMState {
	switch {
	case e.OverwriteCount > 0:
		return TMOverridden
	case e.HitCount > 0:
		return TMReinforced
	default:
		return TMAccepted
	}
}

type SaveOutcome string

const (
	SaveInserted        SaveOutcome = "inserted"
	SaveUpdated         SaveOutcome = "updated"
	SaveSkippedGlossary SaveOutcome = "skipped_glossary"
	SaveRejected        SaveOutcome = "rejected"
)

// SaveResult reports what SaveTM did. Reason is set for rejections.
type SaveResult struct {
	Outcome SaveOutcome
	ID      int64
	Reason  string
}

var (
	// bare model or version identifiers: "4o", "v2", "GPT-4", "3.5"
	reVersionLike = regexp.MustCompile(`^(?i)(v|gpt-?|model[ -]?)?\d+(\.\d+)*[a-z]?$`)
	// Chinese numeral + measure word, the classic mistranslation of a model code
	reQuantifier = regexp.MustCompile(`^\s*[0-9一二三四五六七八九十两兩]+(\.\d+)?\s*[个個件台只隻次份张張条條位名种種款]\s*$`)
)

// misfires are well-known bad pairs: lowercase source → rejected targets.
var misfires = map[string][]string{
	"ai":     {"爱", "愛", "tình yêu"},
	"go":     {"去", "đi"},
	"swift":  {"迅速", "nhanh"},
	"rust":   {"铁锈", "鐵鏽", "rỉ sét"},
	"python": {"蟒蛇", "con trăn"},
	"apple":  {"苹果公司的苹果"},
	"java":   {"爪哇", "咖啡"},
	"shell":  {"贝壳", "貝殼", "vỏ sò"},
	"excel":  {"擅长", "擅長"},
}

// QualityReject returns a reason when a pair must not enter TM, or "".
func QualityReject(sourceText, targetText string) string {
	src, tgt := strings.TrimSpace(sourceText), strings.TrimSpace(targetText)
	if src == "" || tgt == "" {
		return "empty source or target"
	}
	if isASCII(src) && isASCII(tgt) && strings.EqualFold(src, tgt) {
		return "ascii source equals target"
	}
	if reVersionLike.MatchString(src) && reQuantifier.MatchString(tgt) {
		return "version pattern translated as quantifier"
	}
	for _, bad := range misfires[strings.ToLower(src)] {
		if tgt == bad {
			return "known misfire"
		}
	}
	return ""
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// SaveTM inserts or overwrites a TM pair. Pairs failing the quality rules
// are rejected and pairs already covered by the glossary are skipped;
// neither is an error.
func (s *Store) SaveTM(ctx context.Context, e TMEntry) (SaveResult, error) {
	if reason := QualityReject(e.SourceText, e.TargetText); reason != "" {
		return SaveResult{Outcome: SaveRejected, Reason: reason}, nil
	}

	exists, err := s.GlossaryExists(ctx, e.SourceLang, e.TargetLang, e.SourceText)
	if err != nil {
		return SaveResult{}, err
	}
	if exists {
		return SaveResult{Outcome: SaveSkippedGlossary}, nil
	}

	hash := TMHash(e.SourceLang, e.TargetLang, e.SourceText, e.Context)
	var res SaveResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		t := now()
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM tm WHERE hash = ?`, hash).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			query, args, err := s.sq.Insert("tm").
				Columns("hash", "source_lang", "target_lang", "source_text", "source_norm", "target_text",
					"context", "scope_type", "scope_id", "created_at", "updated_at").
				Values(hash, e.SourceLang, e.TargetLang, e.SourceText, normalizeText(e.SourceText), e.TargetText,
					e.Context, e.ScopeType, e.ScopeID, t, t).
				ToSql()
			if err != nil {
				return err
			}
			r, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			id, err = r.LastInsertId()
			res = SaveResult{Outcome: SaveInserted, ID: id}
			return err
		case err != nil:
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE tm SET target_text = ?, updated_at = ? WHERE id = ?`, e.TargetText, t, id)
		res = SaveResult{Outcome: SaveUpdated, ID: id}
		return err
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("save tm: %w", err)
	}
	return res, nil
}

// TMQuery describes a TM lookup. Fuzzy matching runs only when Similarity
// is set and Threshold is positive.
type TMQuery struct {
	SourceLang string
	TargetLang string
	SourceText string
	Context    string
	Similarity SimilarityFunc
	Threshold  float64
}

// maxFuzzyRunes bounds the texts considered for fuzzy matching.
const maxFuzzyRunes = 1000

// LookupTM returns the TM entry for q, reinforcing it on a hit.
func (s *Store) LookupTM(ctx context.Context, q TMQuery) (*TMEntry, bool, error) {
	e, err := s.getTM(ctx, sq.Eq{"hash": TMHash(q.SourceLang, q.TargetLang, q.SourceText, q.Context)})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if e == nil && q.Similarity != nil && q.Threshold > 0 {
		e, err = s.fuzzyTM(ctx, q)
		if err != nil {
			return nil, false, err
		}
	}
	if e == nil {
		return nil, false, nil
	}

	t := now()
	if s.countHit(ctx, s.sq.Update("tm").
		Set("hit_count", sq.Expr("hit_count + 1")).
		Set("last_hit_at", t).
		Where(sq.Eq{"id": e.ID})) {
		e.HitCount++
		e.LastHitAt = &t
	}
	return e, true, nil
}

func (s *Store) fuzzyTM(ctx context.Context, q TMQuery) (*TMEntry, error) {
	normalized := normalizeText(q.SourceText)
	n := len([]rune(normalized))
	if n == 0 || n > maxFuzzyRunes {
		return nil, nil
	}

	entries, err := s.listTM(ctx, s.tmSelect().Where(sq.Eq{
		"source_lang": q.SourceLang,
		"target_lang": q.TargetLang,
		"context":     q.Context,
	}))
	if err != nil {
		return nil, err
	}

	var best *TMEntry
	bestScore := 0.0
	for i := range entries {
		cand := normalizeText(entries[i].SourceText)
		// +1 keeps the bound valid for trigram sets as well as edit distance.
		if lengthBound(n+1, len([]rune(cand))+1) < q.Threshold {
			continue
		}
		score := q.Similarity(normalized, cand)
		if score >= q.Threshold && score > bestScore {
			best, bestScore = &entries[i], score
		}
	}
	return best, nil
}

// TMFilter selects TM rows for listing. Empty fields do not filter.
type TMFilter struct {
	SourceLang string
	TargetLang string
	ScopeType  string
	ScopeID    string
	Limit      uint64
}

// ListTM returns matching entries, newest first.
func (s *Store) ListTM(ctx context.Context, f TMFilter) ([]TMEntry, error) {
	b := s.tmSelect()
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
	b = b.OrderBy("id DESC")
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}
	return s.listTM(ctx, b)
}

// OverrideTM replaces the target of an existing pair after a user edit.
func (s *Store) OverrideTM(ctx context.Context, id int64, targetText string) (*TMEntry, error) {
	res, err := s.exec(ctx, s.sq.Update("tm").
		Set("target_text", targetText).
		Set("overwrite_count", sq.Expr("overwrite_count + 1")).
		Set("updated_at", now()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.getTM(ctx, sq.Eq{"id": id})
}

// DeleteTM removes a TM row by id.
func (s *Store) DeleteTM(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, s.sq.Delete("tm").Where(sq.Eq{"id": id}))
	return err
}

// TagTM links a TM row to a named category, creating the category.
func (s *Store) TagTM(ctx context.Context, tmID int64, category string) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		catID, err := ensureCategory(ctx, tx, category)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO tm_categories (tm_id, category_id) VALUES (?, ?)`, tmID, catID)
		return err
	})
}

// TMCategories lists category names linked to a TM row.
func (s *Store) TMCategories(ctx context.Context, tmID int64) ([]string, error) {
	query, args, err := s.sq.Select("c.name").
		From("tm_categories tc").
		Join("categories c ON c.id = tc.category_id").
		Where(sq.Eq{"tc.tm_id": tmID}).
		OrderBy("c.name").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func ensureCategory(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO categories (name, created_at) VALUES (?, ?)`, name, now()); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM categories WHERE name = ?`, name).Scan(&id)
	return id, err
}

func (s *Store) tmSelect() sq.SelectBuilder {
	return s.sq.Select("id", "hash", "source_lang", "target_lang", "source_text", "target_text", "context",
		"scope_type", "scope_id", "hit_count", "overwrite_count", "last_hit_at", "created_at").
		From("tm")
}

func (s *Store) getTM(ctx context.Context, where sq.Sqlizer) (*TMEntry, error) {
	entries, err := s.listTM(ctx, s.tmSelect().Where(where).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

func (s *Store) listTM(ctx context.Context, b sq.SelectBuilder) ([]TMEntry, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TMEntry
	for rows.Next() {
		var e TMEntry
		var lastHit sql.NullTime
		if err := rows.Scan(&e.ID, &e.Hash, &e.SourceLang, &e.TargetLang, &e.SourceText, &e.TargetText, &e.Context,
			&e.ScopeType, &e.ScopeID, &e.HitCount, &e.OverwriteCount, &lastHit, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.LastHitAt = nullTime(lastHit)
		out = append(out, e)
	}
	return out, rows.Err()
}
