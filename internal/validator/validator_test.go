package validator

import (
	"strings"
	"testing"

	"github.com/valpere/doctran/internal/detector"
)

var det = detector.New()

func TestCheck_AllInTarget(t *testing.T) {
	g := New(det)
	v := g.Check([]string{"Xin chào thế giới", "Tổng quan dự án", ""}, "vi")
	if v.Checked != 2 {
		t.Errorf("expected 2 checked, got %d", v.Checked)
	}
	if !v.Passed() {
		t.Errorf("expected pass, got rate %.2f", v.Rate())
	}
}

func TestCheck_MajorityWrongLanguage(t *testing.T) {
	g := New(det)
	v := g.Check([]string{"Hello world", "Good morning team", "Xin chào thế giới"}, "vi")
	if v.Passed() {
		t.Fatal("expected guard to fail")
	}
	if len(v.Mismatched) != 2 || v.Mismatched[0] != 0 || v.Mismatched[1] != 1 {
		t.Errorf("expected mismatches [0 1], got %v", v.Mismatched)
	}
	if v.Detected["en"] != 2 || v.Detected["vi"] != 1 {
		t.Errorf("unexpected histogram %v", v.Detected)
	}
	if !strings.Contains(v.Diagnostic(), "en=2") {
		t.Errorf("diagnostic missing histogram: %s", v.Diagnostic())
	}
}

func TestCheck_HalfMismatchPasses(t *testing.T) {
	g := New(det)
	v := g.Check([]string{"Hello world", "Xin chào thế giới"}, "vi")
	if !v.Passed() {
		t.Errorf("expected 50%% mismatch to pass, got rate %.2f", v.Rate())
	}
}

func TestCheck_ChineseVariants(t *testing.T) {
	g := New(det)
	v := g.Check([]string{"这是我们的会议报告"}, "zh-TW")
	if v.Passed() {
		t.Error("expected simplified output to fail a zh-TW target")
	}
	v = g.Check([]string{"這是我們的會議報告"}, "zh-TW")
	if !v.Passed() {
		t.Error("expected traditional output to pass a zh-TW target")
	}
}

func TestCheck_SkipsAcronymsAndCodes(t *testing.T) {
	g := New(det)
	v := g.Check([]string{"營收強勁成長", "KPI", "AWS", "GPT-4"}, "zh-TW")
	if v.Checked != 1 {
		t.Errorf("expected only the sentence to be checked, got %d", v.Checked)
	}
	if !v.Passed() {
		t.Errorf("expected pass, got %s", v.Diagnostic())
	}
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"KPI", true},
		{"Q3", true},
		{"GPT-4", true},
		{"v2.1", true},
		{"2025", true},
		{"Hello", false},
		{"ROADMAP", false},
		{"AWS cloud", false},
		{"營收", false},
	}
	for _, tt := range tests {
		if got := isCode(tt.text); got != tt.want {
			t.Errorf("isCode(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCheck_EmptyTarget(t *testing.T) {
	g := New(det)
	if v := g.Check([]string{"Hello world"}, ""); v.Checked != 0 || !v.Passed() {
		t.Errorf("expected no checks without a target, got %+v", v)
	}
}

func TestIsValid(t *testing.T) {
	g := New(det)
	if ok, err := g.IsValid("   ", "en"); ok || err == nil {
		t.Error("expected whitespace-only translation to be invalid")
	}
	if ok, err := g.IsValid("Xin chào thế giới", "vi"); !ok || err != nil {
		t.Errorf("expected valid, got %v %v", ok, err)
	}
	if ok, err := g.IsValid("Hello world", "vi"); ok || err == nil {
		t.Error("expected english text to be invalid for vi")
	}
	if ok, err := g.IsValid("AWS", "vi"); !ok || err != nil {
		t.Errorf("expected acronym to be valid in any language, got %v %v", ok, err)
	}
}
