package markdown

import "testing"

func TestPlain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"emphasis", "**Bold** and _soft_", "Bold and soft"},
		{"heading", "# Title\n\nBody text", "Title\nBody text"},
		{"entities", "Fish &amp; chips", "Fish & chips"},
		{"inline code", "run `make build` now", "run make build now"},
		{"list", "- 季度報告\n- 營收", "季度報告\n營收"},
		{"link", "[Báo cáo](https://example.com/r) quý", "Báo cáo quý"},
		{"plain text", "Hello world", "Hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Plain(tt.in); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestStripTags(t *testing.T) {
	tests := map[string]string{
		"<p>a > b</p>":           "a > b",
		"<b>bold</b> text":       "bold text",
		"no tags":                "no tags",
		`<a href="x">link</a>`:   "link",
		"<unterminated tag text": "",
	}
	for in, want := range tests {
		if got := StripTags(in); got != want {
			t.Errorf("StripTags(%q) = %q, want %q", in, got, want)
		}
	}
}
