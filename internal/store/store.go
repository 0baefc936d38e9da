// Package store persists the translation cache, translation memory, glossary,
// preserve terms, unified term repository and learning analytics in a single
// embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db   *sql.DB
	sq   sq.StatementBuilderType
	path string

	// writers are serialised; readers use the pool concurrently (WAL).
	wmu sync.Mutex

	preserveGen atomic.Uint64

	lmu       sync.RWMutex
	listeners []TermListener
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, sq: sq.StatementBuilder, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Path is the database file the store was opened on.
func (s *Store) Path() string { return s.path }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS translation_cache (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tm (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		source_text TEXT NOT NULL,
		source_norm TEXT NOT NULL,
		target_text TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		scope_type TEXT NOT NULL DEFAULT '',
		scope_id TEXT NOT NULL DEFAULT '',
		hit_count INTEGER NOT NULL DEFAULT 0,
		overwrite_count INTEGER NOT NULL DEFAULT 0,
		last_hit_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- glossary rows are authoritative over tm during prompting
	CREATE TABLE IF NOT EXISTS glossary (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		source_text TEXT NOT NULL,
		target_text TEXT NOT NULL,
		scope_type TEXT NOT NULL DEFAULT '',
		scope_id TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 5,
		origin TEXT NOT NULL DEFAULT 'manual',
		hit_count INTEGER NOT NULL DEFAULT 0,
		overwrite_count INTEGER NOT NULL DEFAULT 0,
		last_hit_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tm_categories (
		tm_id INTEGER NOT NULL REFERENCES tm(id) ON DELETE CASCADE,
		category_id INTEGER NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
		PRIMARY KEY (tm_id, category_id)
	);

	CREATE TABLE IF NOT EXISTS term_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_text TEXT NOT NULL,
		target_text TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		correction_count INTEGER NOT NULL DEFAULT 0,
		last_corrected_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(source_text, target_text, source_lang, target_lang)
	);

	CREATE TABLE IF NOT EXISTS preserve_terms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		term TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT '',
		case_sensitive BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS learning_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id TEXT NOT NULL DEFAULT '',
		scope_type TEXT NOT NULL DEFAULT '',
		scope_id TEXT NOT NULL DEFAULT '',
		source_text TEXT NOT NULL DEFAULT '',
		target_text TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		day TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS learning_stats (
		day TEXT PRIMARY KEY,
		tm_hits INTEGER NOT NULL DEFAULT 0,
		glossary_hits INTEGER NOT NULL DEFAULT 0,
		misses INTEGER NOT NULL DEFAULT 0,
		overwrites INTEGER NOT NULL DEFAULT 0,
		promotions INTEGER NOT NULL DEFAULT 0,
		auto_promotion_errors INTEGER NOT NULL DEFAULT 0,
		wrong_suggestions INTEGER NOT NULL DEFAULT 0,
		tm_hit_rate REAL NOT NULL DEFAULT 0,
		glossary_hit_rate REAL NOT NULL DEFAULT 0,
		overwrite_rate REAL NOT NULL DEFAULT 0,
		auto_promotion_error_rate REAL NOT NULL DEFAULT 0,
		wrong_suggestion_rate REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);

	-- unified term repository: the single writer projected into glossary
	CREATE TABLE IF NOT EXISTS terms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		term TEXT NOT NULL,
		term_norm TEXT NOT NULL,
		category_id INTEGER REFERENCES categories(id),
		priority INTEGER NOT NULL DEFAULT 5,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS term_languages (
		term_id INTEGER NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
		lang_code TEXT NOT NULL,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS term_aliases (
		term_id INTEGER NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
		alias TEXT NOT NULL,
		alias_norm TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS term_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		term_id INTEGER NOT NULL REFERENCES terms(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		snapshot TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_glossary_pair ON glossary(source_lang, target_lang, source_text);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tm_hash ON tm(hash);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_terms_norm ON terms(term_norm);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_term_languages ON term_languages(term_id, lang_code);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_term_aliases ON term_aliases(term_id, alias_norm);
	CREATE INDEX IF NOT EXISTS idx_tm_lookup ON tm(source_lang, target_lang, source_norm);
	CREATE INDEX IF NOT EXISTS idx_tm_scope ON tm(scope_type, scope_id);
	CREATE INDEX IF NOT EXISTS idx_glossary_target ON glossary(target_lang);
	CREATE INDEX IF NOT EXISTS idx_events_day ON learning_events(day, event_type);
	`

	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn in a write transaction. Writers are serialised so
// transactions stay short and never contend for the SQLite write lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// exec runs a single serialised write statement.
func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.db.ExecContext(ctx, query, args...)
}

// countHit runs a hit counter update. A failed update is logged and reported
// as false; it never turns a hit into a miss.
func (s *Store) countHit(ctx context.Context, b sq.UpdateBuilder) bool {
	if _, err := s.exec(ctx, b); err != nil {
		slog.WarnContext(ctx, "hit counter not updated", "error", err)
		return false
	}
	return true
}

func now() time.Time { return time.Now().UTC() }

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
