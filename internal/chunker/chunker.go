// Package chunker groups pending blocks into provider-sized chunks and
// builds the surrounding-content snippet sent with each chunk so the model
// keeps terminology and tone consistent across chunk boundaries.
package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/valpere/doctran/internal"
)

const (
	// DefaultContextWords is the default number of words extracted by
	// ExtractContext for use as a sliding-window context.
	DefaultContextWords = 25

	// maxSnippetRunes caps snippets of unspaced scripts (CJK) that
	// ExtractContext cannot shorten by words.
	maxSnippetRunes = 120

	// maxContextLines caps the context section of one prompt.
	maxContextLines = 20
)

var defaultSizes = map[string]int{
	"openai": 40,
	"ollama": 6,
	"gemini": 4,
}

const fallbackSize = 40

// DefaultSize returns the chunk size used for a provider when none is
// configured.
func DefaultSize(provider string) int {
	if n, ok := defaultSizes[strings.ToLower(provider)]; ok {
		return n
	}
	return fallbackSize
}

// Split groups items into consecutive chunks of at most size elements.
// single collapses everything into one chunk; size ≤ 0 means unlimited.
func Split[T any](items []T, size int, single bool) [][]T {
	if len(items) == 0 {
		return nil
	}
	if single || size <= 0 || len(items) <= size {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Strategy selects which surrounding blocks are quoted as context.
type Strategy string

const (
	StrategyNone     Strategy = "none"
	StrategyNeighbor Strategy = "neighbor"
	StrategyTitle    Strategy = "title-only"
	StrategyDeck     Strategy = "deck"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyNone, StrategyNeighbor, StrategyTitle, StrategyDeck:
		return true
	}
	return false
}

// Context renders the context snippet for a chunk. all is the full request
// block list; chunk holds indices into all. Blocks of the chunk itself are
// never quoted.
func Context(strategy Strategy, all []internal.Block, chunk []int) string {
	if strategy == StrategyNone || strategy == "" || len(chunk) == 0 {
		return ""
	}
	inChunk := make(map[int]bool, len(chunk))
	slides := map[int]bool{}
	for _, i := range chunk {
		inChunk[i] = true
		slides[all[i].SlideIndex] = true
	}

	var want func(i int, b internal.Block) bool
	switch strategy {
	case StrategyNeighbor:
		want = func(_ int, b internal.Block) bool {
			return slides[b.SlideIndex-1] || slides[b.SlideIndex] || slides[b.SlideIndex+1]
		}
	case StrategyTitle:
		titles := slideTitles(all)
		want = func(i int, b internal.Block) bool {
			return titles[b.SlideIndex] == i
		}
	case StrategyDeck:
		first := firstSlides(all, 2)
		want = func(_ int, b internal.Block) bool { return first[b.SlideIndex] }
	default:
		return ""
	}

	var lines []string
	for i, b := range all {
		if inChunk[i] || strings.TrimSpace(b.SourceText) == "" || !want(i, b) {
			continue
		}
		lines = append(lines, fmt.Sprintf("[slide %d] %s", b.SlideIndex, Snippet(b.SourceText)))
		if len(lines) == maxContextLines {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// slideTitles maps each slide to the index of its first non-empty block.
func slideTitles(all []internal.Block) map[int]int {
	titles := map[int]int{}
	for i, b := range all {
		if strings.TrimSpace(b.SourceText) == "" {
			continue
		}
		if _, ok := titles[b.SlideIndex]; !ok {
			titles[b.SlideIndex] = i
		}
	}
	return titles
}

func firstSlides(all []internal.Block, n int) map[int]bool {
	seen := map[int]bool{}
	var idx []int
	for _, b := range all {
		if !seen[b.SlideIndex] {
			seen[b.SlideIndex] = true
			idx = append(idx, b.SlideIndex)
		}
	}
	sort.Ints(idx)
	out := map[int]bool{}
	for i := 0; i < len(idx) && i < n; i++ {
		out[idx[i]] = true
	}
	return out
}

// Snippet shortens text for quoting: the last DefaultContextWords words,
// single-lined and capped in runes.
func Snippet(text string) string {
	s := strings.Join(strings.Fields(ExtractContext(text, DefaultContextWords)), " ")
	if r := []rune(s); len(r) > maxSnippetRunes {
		return string(r[:maxSnippetRunes]) + "…"
	}
	return s
}

// ExtractContext returns the last wordCount words of text, joined by a single
// space. It is intended for use as a sliding-window context snippet passed to
// LLM translators so they can maintain narrative continuity across chunks.
// If text has fewer words than wordCount, the entire text is returned.
// If wordCount ≤ 0, DefaultContextWords is used.
func ExtractContext(text string, wordCount int) string {
	if wordCount <= 0 {
		wordCount = DefaultContextWords
	}
	words := strings.Fields(text)
	if len(words) <= wordCount {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[len(words)-wordCount:], " ")
}
