package translator

import (
	"context"
	"fmt"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/apperr"
)

// GoogleService is a machine-translation backend. It ignores prompts and
// translates the block source texts in one call.
type GoogleService struct {
	credentials string
	apiKey      string
}

func NewGoogleService(cfg ServiceConfig) *GoogleService {
	return &GoogleService{credentials: cfg.Credentials, apiKey: cfg.APIKey}
}

func (s *GoogleService) Name() string  { return "google" }
func (s *GoogleService) Model() string { return "nmt" }

func (s *GoogleService) Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error) {
	target, err := language.Parse(req.TargetLang)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTerminal, err, "invalid target language %q", req.TargetLang)
	}

	var opts []option.ClientOption
	switch {
	case s.credentials != "":
		opts = append(opts, option.WithCredentialsFile(s.credentials))
	case s.apiKey != "":
		opts = append(opts, option.WithAPIKey(s.apiKey))
	}
	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, err, "create google client")
	}
	defer client.Close()

	var topts *translate.Options
	if req.SourceLang != "" && req.SourceLang != "auto" {
		if src, err := language.Parse(req.SourceLang); err == nil {
			topts = &translate.Options{Source: src, Format: translate.Text}
		}
	}
	if topts == nil {
		topts = &translate.Options{Format: translate.Text}
	}

	translations, err := client.Translate(ctx, sourceTexts(req.Blocks), target, topts)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindOf(err), Provider: s.Name(), Msg: "translate", Err: err}
	}
	out, err := fillTranslations(req.Blocks, translations)
	if err != nil {
		return nil, err
	}
	return &TranslateResult{Blocks: out, Model: s.Model()}, nil
}

// fillTranslations copies the text-format results onto blocks. Text format
// answers are not HTML-escaped, so they are used verbatim.
func fillTranslations(blocks []internal.Block, translations []translate.Translation) ([]internal.Block, error) {
	if len(translations) != len(blocks) {
		return nil, apperr.New(apperr.KindContract, "expected %d translations, got %d", len(blocks), len(translations))
	}
	out := make([]internal.Block, len(blocks))
	for i, b := range blocks {
		b.TranslatedText = translations[i].Text
		out[i] = b
	}
	return out, nil
}

func (s *GoogleService) Complete(ctx context.Context, prompt string) (string, error) {
	return "", &apperr.Error{Kind: apperr.KindTerminal, Provider: s.Name(), Msg: fmt.Sprintf("%s does not support free-form prompts", s.Name())}
}

func (s *GoogleService) TranslatePlain(ctx context.Context, prompt string) (string, error) {
	return s.Complete(ctx, prompt)
}
