package detector

import (
	"sync"
	"testing"
)

func TestDetector_Detect(t *testing.T) {
	d := New()

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "empty text", text: "", want: ""},
		{name: "digits only", text: "2024 / 42", want: ""},
		{name: "ascii english", text: "Quarterly revenue report", want: "en"},
		{name: "vietnamese diacritics", text: "Xin chào thế giới", want: "vi"},
		{name: "traditional chinese", text: "這是我們的會議報告", want: "zh-TW"},
		{name: "simplified chinese", text: "这是我们的会议报告", want: "zh-CN"},
		{name: "short chinese without markers", text: "中文", want: "zh"},
		{name: "japanese kana", text: "これは日本語のテストです", want: "ja"},
		{name: "korean", text: "안녕하세요 세계", want: "ko"},
		{name: "french", text: "Bonjour, ceci est un test en français.", want: "fr"},
		{name: "ukrainian", text: "Привіт, це тест українською мовою.", want: "uk"},
		{name: "markdown english", text: "**Quarterly** revenue `report`", want: "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Detect(tt.text); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDetector_Memoised(t *testing.T) {
	d := New()
	first := d.Detect("Xin chào thế giới")
	if got := d.Detect("Xin chào thế giới"); got != first {
		t.Errorf("expected memoised %q, got %q", first, got)
	}
	if len(d.memo) != 1 {
		t.Errorf("expected 1 memo entry, got %d", len(d.memo))
	}
}

func TestDetector_ConcurrentUse(t *testing.T) {
	d := New()
	texts := []string{"Hello there friend", "Xin chào thế giới", "這是我們的會議報告", "这是我们的会议报告"}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Detect(texts[i%len(texts)])
		}(i)
	}
	wg.Wait()
}

func TestCountVietnamese(t *testing.T) {
	if n := CountVietnamese("Xin chào thế giới"); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	if n := CountVietnamese("café à la carte"); n != 0 {
		t.Errorf("expected 0 for french accents, got %d", n)
	}
}

func TestDetectDocument_Bilingual(t *testing.T) {
	d := New()
	texts := []string{
		"Xin chào thế giới\n這是我們的會議報告",
		"Tổng quan dự án\n專案概述與說明",
		"Kết quả kinh doanh\n經營結果報告",
	}
	got := d.DetectDocument(texts)
	if got.Primary != "vi" {
		t.Errorf("expected primary vi, got %q", got.Primary)
	}
	if got.Secondary != "zh-TW" {
		t.Errorf("expected secondary zh-TW, got %q", got.Secondary)
	}
	if !got.Bilingual() {
		t.Error("expected bilingual document")
	}
}

func TestDetectDocument_Monolingual(t *testing.T) {
	d := New()
	got := d.DetectDocument([]string{"Quarterly revenue report", "Next steps for the team", ""})
	if got.Primary != "en" || got.Secondary != "en" {
		t.Errorf("expected en/en, got %q/%q", got.Primary, got.Secondary)
	}
	if got.Bilingual() {
		t.Error("expected monolingual document")
	}
}

func TestSampleIndices(t *testing.T) {
	if got := SampleIndices(10); len(got) != 10 {
		t.Errorf("expected all 10 indices, got %d", len(got))
	}
	got := SampleIndices(200)
	if len(got) != 50 {
		t.Fatalf("expected 50 indices, got %d", len(got))
	}
	if got[0] != 0 || got[19] != 19 {
		t.Errorf("expected head 0..19, got %d..%d", got[0], got[19])
	}
	if got[20] != 95 || got[29] != 104 {
		t.Errorf("expected middle 95..104, got %d..%d", got[20], got[29])
	}
	if got[49] != 199 {
		t.Errorf("expected tail ending at 199, got %d", got[49])
	}
}

func TestNormalizeAndMatches(t *testing.T) {
	norm := map[string]string{
		"zh-Hant": "zh-TW",
		"zh_tw":   "zh-TW",
		"zh-Hans": "zh-CN",
		"zh-CN":   "zh-CN",
		"zh":      "zh",
		"EN":      "en",
		"vi":      "vi",
		"pt-BR":   "pt-BR",
	}
	for in, want := range norm {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q): expected %q, got %q", in, want, got)
		}
	}

	matches := []struct {
		detected, target string
		want             bool
	}{
		{"zh-TW", "zh-TW", true},
		{"zh-CN", "zh-TW", false},
		{"zh", "zh-TW", true},
		{"en", "en-US", true},
		{"en", "vi", false},
		{"", "vi", true},
	}
	for _, m := range matches {
		if got := Matches(m.detected, m.target); got != m.want {
			t.Errorf("Matches(%q, %q): expected %v, got %v", m.detected, m.target, m.want, got)
		}
	}
}
