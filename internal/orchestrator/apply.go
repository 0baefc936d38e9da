package orchestrator

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/detector"
	"github.com/valpere/doctran/internal/placeholder"
	"github.com/valpere/doctran/internal/progress"
	"github.com/valpere/doctran/internal/store"
	"github.com/valpere/doctran/internal/terms"
)

func (r *run) mode(i int) internal.Mode {
	if m := r.blocks[i].Mode; m != "" {
		return m
	}
	if r.req.Mode != "" {
		return r.req.Mode
	}
	return internal.ModeDirect
}

// apply restores and post-processes a chunk's translations, persists the
// eligible ones, fills every block sharing their cache key and publishes a
// progress event.
func (r *run) apply(ctx context.Context, c *chunk, blocks []internal.Block, fallback bool) {
	e := progress.Event{
		Type:         progress.EventProgress,
		RequestID:    r.id,
		ChunkIndex:   c.index,
		ChunkSize:    len(c.indices),
		TotalPending: r.stats.Pending,
	}
	for k, i := range c.indices {
		src := r.blocks[i].SourceText
		text := blocks[k].TranslatedText
		if !fallback {
			raw := text
			text = placeholder.Restore(raw, c.mappings[k])
			text = substituteGlossary(src, text, c.relevant)
			text = keepVietnamesePrefix(src, text)
			if missing := placeholder.Missing(raw, c.mappings[k]); len(missing) > 0 {
				r.log.Debug("placeholder tokens dropped by provider", "block", r.blocks[i].Key(), "tokens", missing)
			} else {
				r.persist(ctx, src, text)
			}
		}

		key := r.cacheKey(src)
		r.mu.Lock()
		r.memo[key] = text
		members := r.groups[key]
		for _, j := range members {
			r.slots[j] = &text
		}
		r.mu.Unlock()

		for _, j := range members {
			cid := r.blocks[j].ClientID
			e.CompletedIndices = append(e.CompletedIndices, j)
			if cid != "" {
				e.CompletedIDs = append(e.CompletedIDs, cid)
			}
			e.CompletedBlocks = append(e.CompletedBlocks, progress.CompletedBlock{Index: j, ClientID: cid, TranslatedText: text})
		}
	}
	e.Timestamp = time.Now().UTC()
	r.sink.Publish(e)
}

// persist writes a translation to the cache and the TM when it is complete,
// in the target language and not a preserve term.
func (r *run) persist(ctx context.Context, src, text string) {
	if r.provider.Name() == "mock" || placeholder.HasResidue(text) {
		return
	}
	if _, ok := terms.MatchPreserve(src, r.preserve); ok {
		return
	}
	if ok, err := r.o.guard.IsValid(text, r.target); !ok {
		r.log.Debug("translation not persisted", "reason", err)
		return
	}
	if err := r.o.store.SetCache(ctx, r.cacheKey(src), text); err != nil {
		r.log.Warn("cache write failed", "error", err)
		return
	}
	if r.useTM && r.sourceLang != "auto" {
		_, err := r.o.recorder.SaveTM(ctx, store.TMEntry{
			SourceLang: r.sourceLang,
			TargetLang: r.target,
			SourceText: src,
			TargetText: text,
			Context:    r.rc.Subset(),
			ScopeType:  r.rc.ScopeType,
			ScopeID:    r.rc.ScopeID,
		}, r.rc.Category)
		if err != nil {
			r.log.Warn("tm write failed", "error", err)
		}
	}
	r.count(func(s *Stats) { s.Persisted++ })
}

// finalize renders the output blocks according to each block's mode.
// Callers hold r.mu.
func (r *run) finalize() []internal.Block {
	out := make([]internal.Block, len(r.blocks))
	for i, b := range r.blocks {
		t := ""
		if r.slots[i] != nil {
			t = *r.slots[i]
		}
		if r.paired[i] {
			b.TranslatedText = b.SourceText
			out[i] = b
			continue
		}
		switch r.mode(i) {
		case internal.ModeBilingual:
			b.TempTranslatedText = t
			switch {
			case strings.TrimSpace(b.SourceText) == "", t == "", t == b.SourceText:
				b.TranslatedText = b.SourceText
			default:
				b.TranslatedText = b.SourceText + "\n" + t
			}
		case internal.ModeCorrection:
			b.CorrectionTemp = t
			if strings.TrimSpace(b.TranslatedText) == "" {
				b.TranslatedText = t
			}
		default:
			b.TranslatedText = t
		}
		out[i] = b
	}
	return out
}

// align pairs consecutive blocks on one slide whose texts are in the source
// and the target language respectively. The source block is passed through
// and the target block is translated with the source as hint.
func (r *run) align() {
	for i := 0; i+1 < len(r.blocks); i++ {
		a, b := r.blocks[i], r.blocks[i+1]
		if a.SlideIndex != b.SlideIndex || strings.TrimSpace(a.SourceText) == "" || strings.TrimSpace(b.SourceText) == "" {
			continue
		}
		la, lb := r.o.det.Detect(a.SourceText), r.o.det.Detect(b.SourceText)
		if la == "" || lb == "" || !detector.Matches(la, r.sourceLang) || !detector.Matches(lb, r.target) ||
			detector.Matches(la, r.target) {
			continue
		}
		r.paired[i] = true
		r.hints[i+1] = a.SourceText
		r.stats.Aligned++
		i++
	}
}

var domainKeywords = map[string][]string{
	"it":      {"software", "server", "cloud", "api", "database", "kubernetes", "deploy", "network", "軟體", "软件", "伺服器", "服务器", "phần mềm", "máy chủ"},
	"medical": {"patient", "clinical", "diagnosis", "therapy", "dose", "hospital", "患者", "臨床", "临床", "bệnh nhân"},
	"legal":   {"contract", "agreement", "liability", "clause", "plaintiff", "court", "合約", "合同", "條款", "条款", "hợp đồng"},
	"finance": {"revenue", "profit", "quarterly", "invoice", "budget", "fiscal", "營收", "营收", "財報", "财报", "doanh thu"},
}

var domainOrder = []string{"it", "medical", "legal", "finance"}

const domainPrefixRunes = 2000

// detectDomain scores keywords over a prefix of the document text and
// returns the best domain, or "" when no keyword occurs.
func detectDomain(texts []string) string {
	var b strings.Builder
	for _, t := range texts {
		if utf8.RuneCountInString(b.String()) >= domainPrefixRunes {
			break
		}
		b.WriteString(strings.ToLower(t))
		b.WriteByte('\n')
	}
	hay := b.String()
	best, bestScore := "", 0
	for _, d := range domainOrder {
		score := 0
		for _, kw := range domainKeywords[d] {
			score += strings.Count(hay, kw)
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

// substituteGlossary replaces preferred sources the provider left
// untranslated with their targets.
func substituteGlossary(source, text string, preferred []internal.PreferredTerm) string {
	ls := strings.ToLower(source)
	for _, t := range preferred {
		if t.Source == "" || strings.EqualFold(t.Source, t.Target) || !strings.Contains(ls, strings.ToLower(t.Source)) {
			continue
		}
		lt := strings.ToLower(text)
		if strings.Contains(lt, strings.ToLower(t.Target)) || !strings.Contains(lt, strings.ToLower(t.Source)) {
			continue
		}
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(t.Source))
		text = re.ReplaceAllLiteralString(text, t.Target)
	}
	return text
}

// keepVietnamesePrefix restores the Vietnamese lead-in of a mixed
// Vietnamese/CJK source when the translation dropped it.
func keepVietnamesePrefix(source, translated string) string {
	if detector.CountVietnamese(source) < detector.VietnameseThreshold || detector.CountVietnamese(translated) > 0 {
		return translated
	}
	cut := strings.IndexFunc(source, detector.IsCJK)
	if cut <= 0 {
		return translated
	}
	prefix := strings.TrimSpace(source[:cut])
	if prefix == "" || strings.HasPrefix(translated, prefix) {
		return translated
	}
	return prefix + " " + translated
}
