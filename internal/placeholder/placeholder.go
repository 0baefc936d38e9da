// Package placeholder shields preferred terms during translation by replacing
// them with opaque tokens (__TERM_0__, __TERM_1__, …) that LLMs are told to
// keep. After translation, Restore substitutes each token with the term's
// required target text.
package placeholder

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// TokenPrefix starts every placeholder token.
const TokenPrefix = "__TERM_"

// reToken matches a complete token in translated text.
var reToken = regexp.MustCompile(`__TERM_(\d+)__`)

// Term is a source phrase and the text that must replace it in the output.
// An empty Target keeps the matched source text verbatim.
type Term struct {
	Source string
	Target string
}

// Entry records what one token stands for.
type Entry struct {
	Original string
	Target   string
}

// Mapping maps tokens to their entries.
type Mapping map[string]Entry

// Tokens lists the mapping's tokens in numeric order.
func (m Mapping) Tokens() []string {
	out := make([]string, 0, len(m))
	for tok := range m {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return tokenIndex(out[i]) < tokenIndex(out[j]) })
	return out
}

func Token(n int) string { return fmt.Sprintf("%s%d__", TokenPrefix, n) }

func tokenIndex(tok string) int {
	n := 0
	fmt.Sscanf(strings.TrimPrefix(tok, TokenPrefix), "%d", &n)
	return n
}

type span struct {
	start, end int
	token      string
}

// Apply replaces every case-insensitive occurrence of each term's source with
// a token. Longer sources win over shorter ones they overlap; a term gets a
// token number only when it matches, so numbering starts at 0 per text.
func Apply(text string, terms []Term) (string, Mapping) {
	return ApplyFrom(text, terms, 0)
}

// ApplyFrom is Apply with token numbers starting at first. Texts sent
// together pass the running count so no token is reused between them.
func ApplyFrom(text string, terms []Term, first int) (string, Mapping) {
	mapping := Mapping{}
	if text == "" || len(terms) == 0 {
		return text, mapping
	}

	sorted := make([]Term, 0, len(terms))
	for _, t := range terms {
		if strings.TrimSpace(t.Source) != "" {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i].Source) > utf8.RuneCountInString(sorted[j].Source)
	})

	var spans []span
	next := first
	for _, t := range sorted {
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(t.Source))
		if err != nil {
			continue
		}
		token := ""
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if overlaps(spans, loc[0], loc[1]) {
				continue
			}
			if token == "" {
				token = Token(next)
				next++
				target := t.Target
				if target == "" {
					target = text[loc[0]:loc[1]]
				}
				mapping[token] = Entry{Original: text[loc[0]:loc[1]], Target: target}
			}
			spans = append(spans, span{start: loc[0], end: loc[1], token: token})
		}
	}
	if len(spans) == 0 {
		return text, mapping
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var b strings.Builder
	last := 0
	for _, s := range spans {
		b.WriteString(text[last:s.start])
		b.WriteString(s.token)
		last = s.end
	}
	b.WriteString(text[last:])
	return b.String(), mapping
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

// Restore substitutes tokens in text with their targets. Tokens not present
// in mapping are left in place so HasResidue can flag them.
func Restore(text string, mapping Mapping) string {
	return replaceTokens(text, mapping, func(e Entry) string { return e.Target })
}

// Unwrap substitutes tokens with the originally matched text, undoing Apply.
func Unwrap(text string, mapping Mapping) string {
	return replaceTokens(text, mapping, func(e Entry) string { return e.Original })
}

func replaceTokens(text string, mapping Mapping, pick func(Entry) string) string {
	if len(mapping) == 0 {
		return text
	}
	return reToken.ReplaceAllStringFunc(text, func(tok string) string {
		if e, ok := mapping[tok]; ok {
			return pick(e)
		}
		return tok
	})
}

// HasResidue reports whether text still contains a token fragment.
func HasResidue(text string) bool {
	return strings.Contains(text, TokenPrefix)
}

// Missing lists tokens of mapping that do not appear in text.
func Missing(text string, mapping Mapping) []string {
	var missing []string
	for _, tok := range mapping.Tokens() {
		if !strings.Contains(text, tok) {
			missing = append(missing, tok)
		}
	}
	return missing
}

// InstructionHint returns a sentence for the prompt telling the model to keep
// the given tokens intact.
func InstructionHint(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	return "Keep these placeholder tokens exactly as written; do not translate, split, or remove them: " +
		strings.Join(tokens, ", ") + "."
}
