package terms

import (
	"context"
	"errors"
	"sort"

	"github.com/valpere/doctran/internal/store"
)

// GlossaryWriter is the glossary side of the store.
type GlossaryWriter interface {
	UpsertGlossary(ctx context.Context, e store.GlossaryEntry) (int64, error)
}

// GlossaryProjection mirrors unified terms into the glossary: every ordered
// pair of language values becomes a glossary row. Data flows one way; the
// glossary never writes back into the term repository. Pairs whose source
// value is a preserve term are skipped.
type GlossaryProjection struct {
	glossary GlossaryWriter
}

func NewGlossaryProjection(g GlossaryWriter) *GlossaryProjection {
	return &GlossaryProjection{glossary: g}
}

// Attach subscribes the projection to term changes of s.
func (p *GlossaryProjection) Attach(s *store.Store) {
	s.OnTermChange(p.Project)
}

func (p *GlossaryProjection) Project(ctx context.Context, t store.UnifiedTerm) error {
	langs := make([]string, 0, len(t.Values))
	for l := range t.Values {
		langs = append(langs, l)
	}
	sort.Strings(langs)

	var errs []error
	for _, src := range langs {
		for _, tgt := range langs {
			if src == tgt {
				continue
			}
			_, err := p.glossary.UpsertGlossary(ctx, store.GlossaryEntry{
				SourceLang: src,
				TargetLang: tgt,
				SourceText: t.Values[src],
				TargetText: t.Values[tgt],
				Priority:   t.Priority,
				Origin:     "term",
			})
			if err != nil && !errors.Is(err, store.ErrPreserved) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
