// Package terms assembles the ranked preferred-term list handed to prompts
// and placeholders, and caches the preserve-term list.
package terms

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/placeholder"
	"github.com/valpere/doctran/internal/store"
)

const (
	tmLimit        = 200
	tmPriority     = 1
	unifiedDefault = 3
)

// Repository is the subset of the store the provider reads from.
type Repository interface {
	ListGlossary(ctx context.Context, f store.GlossaryFilter) ([]store.GlossaryEntry, error)
	ListTM(ctx context.Context, f store.TMFilter) ([]store.TMEntry, error)
	ListUnifiedTerms(ctx context.Context, lang string) ([]store.UnifiedTerm, error)
	ListPreserveTerms(ctx context.Context) ([]internal.PreserveTerm, error)
	PreserveGeneration() uint64
	Path() string
}

// Scope restricts glossary and TM loading.
type Scope struct {
	Type string
	ID   string
}

type Provider struct {
	repo   Repository
	logger *slog.Logger

	mu           sync.Mutex
	preserve     []internal.PreserveTerm
	loadedMtime  time.Time
	loadedGen    uint64
	preserveOnce bool
}

func New(repo Repository, logger *slog.Logger) *Provider {
	return &Provider{repo: repo, logger: logger}
}

// Load returns preferred terms for a language pair sorted by priority,
// highest first. On equal priority, earlier sources win: scoped glossary,
// scoped TM, target-only fallbacks (source "auto"), then unified terms.
// Sources are deduplicated case-insensitively, keeping the first seen.
func (p *Provider) Load(ctx context.Context, sourceLang, targetLang string, scope Scope) ([]internal.PreferredTerm, error) {
	auto := sourceLang == "" || strings.EqualFold(sourceLang, "auto")
	var out []internal.PreferredTerm
	seen := map[string]bool{}
	add := func(src, tgt string, priority int, origin string) {
		key := strings.ToLower(strings.TrimSpace(src))
		if key == "" || strings.TrimSpace(tgt) == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, internal.PreferredTerm{Source: src, Target: tgt, Priority: priority, Origin: origin})
	}

	if !auto {
		glossary, err := p.repo.ListGlossary(ctx, store.GlossaryFilter{
			SourceLang: sourceLang, TargetLang: targetLang, ScopeType: scope.Type, ScopeID: scope.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("load glossary: %w", err)
		}
		for _, g := range glossary {
			add(g.SourceText, g.TargetText, g.Priority, "glossary")
		}

		tm, err := p.repo.ListTM(ctx, store.TMFilter{
			SourceLang: sourceLang, TargetLang: targetLang, ScopeType: scope.Type, ScopeID: scope.ID, Limit: tmLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("load tm: %w", err)
		}
		for _, e := range tm {
			add(e.SourceText, e.TargetText, tmPriority, "tm")
		}
	} else {
		glossary, err := p.repo.ListGlossary(ctx, store.GlossaryFilter{TargetLang: targetLang})
		if err != nil {
			return nil, fmt.Errorf("load glossary: %w", err)
		}
		for _, g := range glossary {
			add(g.SourceText, g.TargetText, g.Priority, "glossary")
		}
		tm, err := p.repo.ListTM(ctx, store.TMFilter{TargetLang: targetLang, Limit: tmLimit})
		if err != nil {
			return nil, fmt.Errorf("load tm: %w", err)
		}
		for _, e := range tm {
			add(e.SourceText, e.TargetText, tmPriority, "tm")
		}
	}

	unified, err := p.repo.ListUnifiedTerms(ctx, targetLang)
	if err != nil {
		return nil, fmt.Errorf("load unified terms: %w", err)
	}
	for _, u := range unified {
		target := u.Values[targetLang]
		priority := u.Priority
		if priority == 0 {
			priority = unifiedDefault
		}
		if !auto {
			if src, ok := u.Values[sourceLang]; ok {
				add(src, target, priority, "term")
			}
			continue
		}
		for lang, src := range u.Values {
			if lang != targetLang {
				add(src, target, priority, "term")
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// Preserve returns the preserve-term list, re-reading it only when the
// database file changed or the store reported a preserve-term write.
func (p *Provider) Preserve(ctx context.Context) ([]internal.PreserveTerm, error) {
	mtime := dbMtime(p.repo.Path())
	gen := p.repo.PreserveGeneration()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.preserveOnce && mtime.Equal(p.loadedMtime) && gen == p.loadedGen {
		return p.preserve, nil
	}

	terms, err := p.repo.ListPreserveTerms(ctx)
	if err != nil {
		return nil, fmt.Errorf("load preserve terms: %w", err)
	}
	p.preserve, p.loadedMtime, p.loadedGen, p.preserveOnce = terms, mtime, gen, true
	if p.logger != nil {
		p.logger.Debug("preserve terms reloaded", "count", len(terms))
	}
	return terms, nil
}

// dbMtime is the newest mtime of the database file and its WAL.
func dbMtime(path string) time.Time {
	var latest time.Time
	for _, f := range []string{path, path + "-wal"} {
		if fi, err := os.Stat(f); err == nil && fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	return latest
}

// MatchPreserve returns the preserve term that text equals, if any.
func MatchPreserve(text string, terms []internal.PreserveTerm) (internal.PreserveTerm, bool) {
	for _, t := range terms {
		if t.Matches(text) {
			return t, true
		}
	}
	return internal.PreserveTerm{}, false
}

// PlaceholderTerms converts preferred and preserve terms for the placeholder
// engine. Preserve terms map to themselves so they survive translation.
func PlaceholderTerms(preferred []internal.PreferredTerm, preserve []internal.PreserveTerm) []placeholder.Term {
	out := make([]placeholder.Term, 0, len(preferred)+len(preserve))
	for _, t := range preserve {
		out = append(out, placeholder.Term{Source: t.Term})
	}
	for _, t := range preferred {
		out = append(out, placeholder.Term{Source: t.Source, Target: t.Target})
	}
	return out
}

// Relevant keeps the terms whose source occurs in any of texts.
func Relevant(preferred []internal.PreferredTerm, texts []string) []internal.PreferredTerm {
	var joined strings.Builder
	for _, t := range texts {
		joined.WriteString(strings.ToLower(t))
		joined.WriteByte('\n')
	}
	hay := joined.String()
	var out []internal.PreferredTerm
	for _, t := range preferred {
		if strings.Contains(hay, strings.ToLower(t.Source)) {
			out = append(out, t)
		}
	}
	return out
}

// Covers reports whether translation honours every preferred term whose
// source occurs in source.
func Covers(source, translation string, preferred []internal.PreferredTerm) bool {
	ls, lt := strings.ToLower(source), strings.ToLower(translation)
	for _, t := range preferred {
		if strings.Contains(ls, strings.ToLower(t.Source)) && !strings.Contains(lt, strings.ToLower(t.Target)) {
			return false
		}
	}
	return true
}
