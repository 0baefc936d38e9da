package terms

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/apperr"
	"github.com/valpere/doctran/internal/postprocess"
	"github.com/valpere/doctran/internal/store"
)

const originExtract = "extract"

// PlainTranslator returns a cleaned model answer for a single prompt.
type PlainTranslator interface {
	TranslatePlain(ctx context.Context, prompt string) (string, error)
}

// Candidate is a glossary pair proposed by a model.
type Candidate struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Extract asks p for candidate pairs and returns them deduplicated by
// source, case-insensitively. Pairs with an empty side, or whose target
// merely repeats the source, are dropped.
func Extract(ctx context.Context, p PlainTranslator, prompt string) ([]Candidate, error) {
	out, err := p.TranslatePlain(ctx, prompt)
	if err != nil {
		return nil, err
	}
	raw := postprocess.ExtractJSON(out)
	if raw == "" {
		return nil, apperr.New(apperr.KindContract, "extraction answer holds no JSON")
	}

	var cands []Candidate
	if strings.HasPrefix(raw, "{") {
		var wrapped struct {
			Terms []Candidate `json:"terms"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, apperr.New(apperr.KindContract, "decode extraction answer: %v", err)
		}
		cands = wrapped.Terms
	} else if err := json.Unmarshal([]byte(raw), &cands); err != nil {
		return nil, apperr.New(apperr.KindContract, "decode extraction answer: %v", err)
	}

	seen := map[string]bool{}
	kept := cands[:0]
	for _, c := range cands {
		c.Source, c.Target = strings.TrimSpace(c.Source), strings.TrimSpace(c.Target)
		key := strings.ToLower(c.Source)
		if c.Source == "" || c.Target == "" || strings.EqualFold(c.Source, c.Target) || seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, c)
	}
	return kept, nil
}

// SaveResult counts what Save did with each candidate.
type SaveResult struct {
	Added     int
	Preserved int
}

// Save upserts candidates as glossary rows of origin "extract". Candidates
// whose source is a preserve term are counted and skipped.
func Save(ctx context.Context, g GlossaryWriter, sourceLang, targetLang string, scope Scope, priority int, cands []Candidate) (SaveResult, error) {
	var res SaveResult
	for _, c := range cands {
		_, err := g.UpsertGlossary(ctx, store.GlossaryEntry{
			SourceLang: sourceLang,
			TargetLang: targetLang,
			SourceText: c.Source,
			TargetText: c.Target,
			ScopeType:  scope.Type,
			ScopeID:    scope.ID,
			Priority:   priority,
			Origin:     originExtract,
		})
		switch {
		case errors.Is(err, store.ErrPreserved):
			res.Preserved++
		case err != nil:
			return res, err
		default:
			res.Added++
		}
	}
	return res, nil
}

// Known converts glossary rows into the list shown to the model as already
// covered.
func Known(entries []store.GlossaryEntry) []internal.PreferredTerm {
	out := make([]internal.PreferredTerm, 0, len(entries))
	for _, e := range entries {
		out = append(out, internal.PreferredTerm{Source: e.SourceText, Target: e.TargetText, Priority: e.Priority})
	}
	return out
}
