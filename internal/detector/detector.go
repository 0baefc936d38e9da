// Package detector identifies the language of short document texts.
//
// Cheap script rules run first (Vietnamese diacritics, CJK ratios, plain
// ASCII) and the lingua statistical model is consulted only when none of
// them decides. Results are memoised; a Detector is safe for concurrent use.
package detector

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"

	"github.com/valpere/doctran/internal/markdown"
)

// VietnameseThreshold is the number of Vietnamese-only letters that marks a
// text as Vietnamese.
const VietnameseThreshold = 2

const (
	cjkRatioThreshold = 0.3
	shortTextRunes    = 5
	memoLimit         = 8192
)

// lingua models are large; keep the candidate set to languages the
// pipeline translates between.
var candidates = []lingua.Language{
	lingua.English,
	lingua.Vietnamese,
	lingua.Chinese,
	lingua.Japanese,
	lingua.Korean,
	lingua.French,
	lingua.German,
	lingua.Spanish,
	lingua.Portuguese,
	lingua.Italian,
	lingua.Russian,
	lingua.Ukrainian,
	lingua.Thai,
	lingua.Indonesian,
}

type Detector struct {
	detector lingua.LanguageDetector

	mu   sync.RWMutex
	memo map[string]string
}

func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(candidates...).
		Build()

	return &Detector{detector: detector, memo: make(map[string]string)}
}

// Detect returns a language code for text or "" when undecidable.
func (d *Detector) Detect(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	d.mu.RLock()
	code, ok := d.memo[text]
	d.mu.RUnlock()
	if ok {
		return code
	}

	code = d.detect(text)

	d.mu.Lock()
	if len(d.memo) >= memoLimit {
		d.memo = make(map[string]string)
	}
	d.memo[text] = code
	d.mu.Unlock()
	return code
}

func (d *Detector) detect(text string) string {
	if looksLikeMarkup(text) {
		if plain := strings.TrimSpace(markdown.Plain(text)); plain != "" {
			text = plain
		}
	}

	if CountVietnamese(text) >= VietnameseThreshold {
		return "vi"
	}

	s := scan(text)
	if s.letters == 0 {
		return ""
	}
	if s.hangul > 0 && s.hangul >= s.kana {
		if float64(s.hangul)/float64(s.letters) > cjkRatioThreshold {
			return "ko"
		}
	}
	if s.kana > 0 {
		if float64(s.kana+s.han)/float64(s.letters) > cjkRatioThreshold {
			return "ja"
		}
	}
	if s.han > 0 {
		ratio := float64(s.han) / float64(s.letters)
		if ratio > cjkRatioThreshold || s.runes < shortTextRunes {
			return ChineseVariant(text)
		}
	}
	if s.nonASCII == 0 && s.latin >= 2 {
		return "en"
	}

	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	if lang == lingua.Chinese {
		return ChineseVariant(text)
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

type stats struct {
	runes, letters, latin, nonASCII int
	han, kana, hangul               int
}

func scan(text string) stats {
	var s stats
	for _, r := range text {
		s.runes++
		if r > unicode.MaxASCII {
			s.nonASCII++
		}
		if !unicode.IsLetter(r) {
			continue
		}
		s.letters++
		switch {
		case r < unicode.MaxASCII:
			s.latin++
		case unicode.Is(unicode.Han, r):
			s.han++
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			s.kana++
		case unicode.Is(unicode.Hangul, r):
			s.hangul++
		}
	}
	return s
}

func looksLikeMarkup(text string) bool {
	return strings.ContainsAny(text, "<*`#_[") &&
		(strings.Contains(text, "</") || strings.Contains(text, "**") ||
			strings.Contains(text, "`") || strings.HasPrefix(text, "#") || strings.Contains(text, "]("))
}

// vietnameseOnly holds letters that appear in Vietnamese but not in the
// other Latin-script languages the pipeline handles.
const vietnameseOnly = "ăĂđĐơƠưƯ" +
	"ạảấầẩẫậắằẳẵặẠẢẤẦẨẪẬẮẰẲẴẶ" +
	"ẹẻẽếềểễệẸẺẼẾỀỂỄỆ" +
	"ỉịỈỊ" +
	"ọỏốồổỗộớờởỡợỌỎỐỒỔỖỘỚỜỞỠỢ" +
	"ụủứừửữựỤỦỨỪỬỮỰ" +
	"ỳỵỷỹỲỴỶỸ"

// CountVietnamese counts Vietnamese-specific letters in text.
func CountVietnamese(text string) int {
	n := 0
	for _, r := range text {
		if r > unicode.MaxASCII && strings.ContainsRune(vietnameseOnly, r) {
			n++
		}
	}
	return n
}

// IsCJK reports whether r is a Han, kana or Hangul character.
func IsCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Frequent characters whose traditional and simplified forms differ.
const (
	traditionalChars = "們個來這時會說對於與為過還後發國經學現體點關開無問題實際應當從處將麼樣讓請機員書長門間車東區華業產動數據設計認識義務標準類語網際錄檔專雲電腦報導傳統價"
	simplifiedChars  = "们个来这时会说对于与为过还后发国经学现体点关开无问题实际应当从处将么样让请机员书长门间车东区华业产动数据设计认识义务标准类语网际录档专云电脑报导传统价"
)

// ChineseVariant classifies Chinese text as "zh-TW" or "zh-CN", or "zh"
// when the text carries no variant-specific characters.
func ChineseVariant(text string) string {
	var trad, simp int
	for _, r := range text {
		if !unicode.Is(unicode.Han, r) {
			continue
		}
		inTrad := strings.ContainsRune(traditionalChars, r)
		inSimp := strings.ContainsRune(simplifiedChars, r)
		switch {
		case inTrad && !inSimp:
			trad++
		case inSimp && !inTrad:
			simp++
		}
	}
	switch {
	case trad > simp:
		return "zh-TW"
	case simp > trad:
		return "zh-CN"
	default:
		return "zh"
	}
}
