package translator

import (
	"testing"

	translate "cloud.google.com/go/translate"

	"github.com/valpere/doctran/internal/apperr"
)

func TestFillTranslations_KeepsTextVerbatim(t *testing.T) {
	out, err := fillTranslations(testBlocks(), []translate.Translation{
		{Text: "研發 &amp; 行銷"},
		{Text: "<b>世界</b>"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].TranslatedText != "研發 &amp; 行銷" {
		t.Errorf("text-format output must not be unescaped, got %q", out[0].TranslatedText)
	}
	if out[1].TranslatedText != "<b>世界</b>" || out[1].ClientID != "" || string(out[1].Geometry) != `{"x":1}` {
		t.Errorf("unexpected block %+v", out[1])
	}
}

func TestFillTranslations_CountMismatch(t *testing.T) {
	_, err := fillTranslations(testBlocks(), []translate.Translation{{Text: "你好"}})
	if apperr.KindOf(err) != apperr.KindContract {
		t.Errorf("expected contract violation, got %v", err)
	}
}
