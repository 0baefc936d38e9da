package detector

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	sampleHead   = 20
	sampleMiddle = 10
	sampleTail   = 20
)

// DocumentLanguages is the outcome of detecting a whole document.
// Secondary equals Primary unless blocks carry a first line in one
// language and a second line in another.
type DocumentLanguages struct {
	Primary   string
	Secondary string
	Weights   map[string]int
}

func (d DocumentLanguages) Bilingual() bool {
	return d.Secondary != "" && d.Secondary != d.Primary
}

// DetectDocument samples up to 50 texts (head, middle and tail), weights
// each detection by text length and tracks first/second line pairs.
func (d *Detector) DetectDocument(texts []string) DocumentLanguages {
	res := DocumentLanguages{Weights: make(map[string]int)}
	secondaries := make(map[string]int)
	firstLines := make(map[string]int)

	for _, i := range SampleIndices(len(texts)) {
		text := strings.TrimSpace(texts[i])
		if text == "" {
			continue
		}
		if code := d.Detect(text); code != "" {
			res.Weights[code] += utf8.RuneCountInString(text)
		}

		first, second := firstTwoLines(text)
		if first == "" || second == "" {
			continue
		}
		l1, l2 := d.Detect(first), d.Detect(second)
		if l1 != "" && l2 != "" && !Matches(l1, l2) {
			firstLines[l1]++
			secondaries[l2]++
		}
	}

	res.Primary = argmax(res.Weights)
	res.Secondary = res.Primary
	if len(secondaries) > 0 {
		// A bilingual layout puts the primary language on the first line.
		if p := argmax(firstLines); p != "" {
			res.Primary = p
		}
		delete(secondaries, res.Primary)
		if s := argmax(secondaries); s != "" {
			res.Secondary = s
		}
	}
	return res
}

// SampleIndices picks which of n texts participate in document detection.
func SampleIndices(n int) []int {
	limit := sampleHead + sampleMiddle + sampleTail
	out := make([]int, 0, min(n, limit))
	if n <= limit {
		for i := 0; i < n; i++ {
			out = append(out, i)
		}
		return out
	}
	for i := 0; i < sampleHead; i++ {
		out = append(out, i)
	}
	mid := n/2 - sampleMiddle/2
	for i := mid; i < mid+sampleMiddle; i++ {
		out = append(out, i)
	}
	for i := n - sampleTail; i < n; i++ {
		out = append(out, i)
	}
	return out
}

func firstTwoLines(text string) (string, string) {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
			if len(lines) == 2 {
				break
			}
		}
	}
	if len(lines) < 2 {
		return "", ""
	}
	return lines[0], lines[1]
}

func argmax(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestN := "", 0
	for _, k := range keys {
		if m[k] > bestN {
			best, bestN = k, m[k]
		}
	}
	return best
}
