package prompt

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/valpere/doctran/internal/detector"
)

var labels = map[string]string{
	"zh-TW": "Traditional Chinese (Taiwan)",
	"zh-CN": "Simplified Chinese",
	"zh":    "Chinese",
	"vi":    "Vietnamese",
	"en":    "English",
	"ja":    "Japanese",
	"ko":    "Korean",
}

// Label returns the English name of a language code.
func Label(code string) string {
	code = detector.Normalize(code)
	if code == "" || code == "auto" {
		return "the source language"
	}
	if l, ok := labels[code]; ok {
		return l
	}
	if l, ok := labels[detector.Base(code)]; ok {
		return l
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

var hints = map[string]string{
	"vi": "- Write Vietnamese with complete diacritics (ă, â, đ, ê, ô, ơ, ư and all tone marks); never drop or approximate them.",
	"zh-TW": "- Use Traditional Chinese characters and Taiwan vocabulary only (軟體, 資料, 網路, 品質), never Simplified forms (软件, 数据, 网络, 质量).\n" +
		"- Use full-width punctuation (，。：；「」).",
	"zh-CN": "- Use Simplified Chinese characters and mainland vocabulary only (软件, 数据, 网络), never Traditional forms (軟體, 資料, 網路).\n" +
		"- Use full-width punctuation (，。：；“”).",
	"ja": "- Use natural business Japanese (です/ます) and keep Latin product names in Latin script.",
	"ko": "- Use polite formal Korean (합니다체) and keep Latin product names in Latin script.",
}

// Hint returns language-specific writing rules for the target, or "".
func Hint(code string) string {
	if h, ok := hints[detector.Normalize(code)]; ok {
		return h
	}
	return hints[detector.Base(code)]
}

var tones = map[string]string{
	"formal":    "Use a formal, professional register.",
	"casual":    "Use a friendly, conversational register.",
	"marketing": "Use persuasive, energetic marketing language while keeping claims unchanged.",
	"technical": "Use precise technical language and standard terminology.",
	"academic":  "Use a neutral academic register.",
}

// Tone returns the tone instruction for a tone name.
func Tone(tone string) string {
	tone = strings.TrimSpace(strings.ToLower(tone))
	if tone == "" {
		return ""
	}
	if t, ok := tones[tone]; ok {
		return t
	}
	return "Use a " + tone + " tone."
}

var domains = map[string]string{
	"it":      "information technology",
	"medical": "medical",
	"legal":   "legal",
	"finance": "finance",
}

// Domain returns the subject-matter instruction for a detected domain.
func Domain(domain string) string {
	name, ok := domains[domain]
	if !ok {
		return ""
	}
	return "The content belongs to the " + name + " domain; use its established terminology."
}

const exampleSource = "Quarterly revenue grew 12%"

var examples = map[string]string{
	"zh-TW": "季度營收成長 12%",
	"zh-CN": "季度营收增长 12%",
	"zh":    "季度营收增长 12%",
	"vi":    "Doanh thu hàng quý tăng 12%",
	"ja":    "四半期売上高は12%増加しました",
	"ko":    "분기 매출이 12% 증가했습니다",
	"en":    "Quarterly revenue grew 12%",
}

// Example returns a one-shot source/translation pair for the target, or "".
func Example(code string) (source, translation string) {
	t, ok := examples[detector.Normalize(code)]
	if !ok {
		if t, ok = examples[detector.Base(code)]; !ok {
			return "", ""
		}
	}
	return exampleSource, t
}
