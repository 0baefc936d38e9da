// Package validator checks that a chunk of translations is in the expected
// target language.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/valpere/doctran/internal/detector"
)

// MaxMismatchRate is the share of checked blocks that may be in the wrong
// language before the chunk is rejected.
const MaxMismatchRate = 0.5

// Verdict summarises a guard check over one chunk.
type Verdict struct {
	Checked    int
	Mismatched []int
	Detected   map[string]int
}

func (v Verdict) Rate() float64 {
	if v.Checked == 0 {
		return 0
	}
	return float64(len(v.Mismatched)) / float64(v.Checked)
}

func (v Verdict) Passed() bool { return v.Rate() <= MaxMismatchRate }

// Diagnostic renders the detected-language histogram for a retry prompt.
func (v Verdict) Diagnostic() string {
	langs := make([]string, 0, len(v.Detected))
	for l := range v.Detected {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	parts := make([]string, 0, len(langs))
	for _, l := range langs {
		parts = append(parts, fmt.Sprintf("%s=%d", l, v.Detected[l]))
	}
	return fmt.Sprintf("%d of %d blocks were not in the target language (detected: %s)",
		len(v.Mismatched), v.Checked, strings.Join(parts, ", "))
}

// Guard runs language checks; the detector is expensive, so reuse one.
type Guard struct {
	det *detector.Detector
}

func New(det *detector.Detector) *Guard {
	return &Guard{det: det}
}

// Check detects each translated text and compares it with targetLang.
// Empty texts, acronyms and codes, and texts whose language cannot be
// determined are not counted.
func (g *Guard) Check(translations []string, targetLang string) Verdict {
	v := Verdict{Detected: make(map[string]int)}
	if targetLang == "" {
		return v
	}
	for i, text := range translations {
		text = strings.TrimSpace(text)
		if text == "" || isCode(text) {
			continue
		}
		lang := g.det.Detect(text)
		if lang == "" {
			continue
		}
		v.Checked++
		v.Detected[lang]++
		if !detector.Matches(lang, targetLang) {
			v.Mismatched = append(v.Mismatched, i)
		}
	}
	return v
}

// IsValid reports whether a single text appears to be in targetLang.
func (g *Guard) IsValid(text, targetLang string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, fmt.Errorf("translation is empty")
	}
	if isCode(strings.TrimSpace(text)) {
		return true, nil
	}
	detected := g.det.Detect(text)
	if detected == "" || detector.Matches(detected, targetLang) {
		return true, nil
	}
	return false, fmt.Errorf("expected %s but detected %s", targetLang, detected)
}

// maxCodeLetters bounds the letters of a token read as an acronym or code.
const maxCodeLetters = 5

// isCode reports whether text is a single short token such as "KPI", "AWS",
// "Q3" or "GPT-4": no spaces, at most maxCodeLetters ASCII letters, and
// either all capitals or containing a digit. Such tokens stay the same in
// every language.
func isCode(text string) bool {
	letters, digits, lower := 0, 0, 0
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			return false
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			if r > unicode.MaxASCII {
				return false
			}
			letters++
			if unicode.IsLower(r) {
				lower++
			}
		}
	}
	if letters > maxCodeLetters {
		return false
	}
	return lower == 0 || digits > 0
}
