// Package prompt renders provider prompts from markdown templates.
//
// Default templates are embedded in the binary. When a prompts directory is
// configured, a file named <template>.md in it overrides the default and is
// re-read whenever its modification time changes, so edits apply to the
// next call without a restart.
package prompt

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/placeholder"
	"github.com/valpere/doctran/internal/translator"
)

const (
	TranslateJSON   = "translate_json"
	SystemMessage   = "system_message"
	OllamaBatch     = "ollama_batch"
	GlossaryExtract = "glossary_extract"
)

// Names lists the templates every deployment must provide.
var Names = []string{TranslateJSON, SystemMessage, OllamaBatch, GlossaryExtract}

//go:embed templates/*.md
var defaults embed.FS

type override struct {
	body  string
	mtime time.Time
}

type Builder struct {
	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	overrides map[string]override
}

// New returns a builder reading overrides from dir. An empty dir uses the
// embedded templates only.
func New(dir string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{dir: dir, logger: logger, overrides: map[string]override{}}
}

// Template returns the current body of the named template.
func (b *Builder) Template(name string) (string, error) {
	if b.dir != "" {
		body, ok, err := b.fromDisk(name)
		if err != nil {
			return "", err
		}
		if ok {
			return body, nil
		}
	}
	data, err := defaults.ReadFile("templates/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("unknown template %q: %w", name, err)
	}
	return string(data), nil
}

func (b *Builder) fromDisk(name string) (string, bool, error) {
	path := filepath.Join(b.dir, name+".md")
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("stat template %s: %w", path, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.overrides[name]; ok && o.mtime.Equal(fi.ModTime()) {
		return o.body, true, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read template %s: %w", path, err)
	}
	b.overrides[name] = override{body: string(data), mtime: fi.ModTime()}
	b.logger.Debug("prompt template loaded", "template", name, "path", path)
	return string(data), true, nil
}

// WriteDefaults copies the embedded templates into dir, keeping files that
// already exist.
func WriteDefaults(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prompts dir: %w", err)
	}
	for _, name := range Names {
		path := filepath.Join(dir, name+".md")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		data, err := defaults.ReadFile("templates/" + name + ".md")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Render replaces {name} markers with vars. Unknown markers are left as they
// are; empty sections collapse to a single blank line.
func Render(tmpl string, vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	out := strings.NewReplacer(pairs...).Replace(tmpl)
	out = blankRuns.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out) + "\n"
}

// Guard asks for a stricter retry after a language mismatch.
type Guard struct {
	Diagnostic string
}

// Input describes one chunk to render.
type Input struct {
	SourceLang        string
	TargetLang        string
	SecondaryLang     string
	Bilingual         bool
	Tone              string
	Domain            string
	Blocks            []internal.Block
	PreferredTerms    []internal.PreferredTerm
	PlaceholderTokens []string
	Context           string
	Guard             *Guard
	Format            translator.Format
}

// Build renders the system and user prompts for a chunk.
func (b *Builder) Build(in Input) (system, user string, err error) {
	sysTmpl, err := b.Template(SystemMessage)
	if err != nil {
		return "", "", err
	}
	name := TranslateJSON
	if in.Format == translator.FormatFramed {
		name = OllamaBatch
	}
	userTmpl, err := b.Template(name)
	if err != nil {
		return "", "", err
	}

	vars := map[string]string{
		"target_label":      Label(in.TargetLang),
		"target_code":       in.TargetLang,
		"source_label":      Label(in.SourceLang),
		"source_code":       sourceCode(in.SourceLang),
		"tone":              Tone(in.Tone),
		"domain":            Domain(in.Domain),
		"block_count":       strconv.Itoa(len(in.Blocks)),
		"language_hint":     Hint(in.TargetLang),
		"placeholder_rules": placeholderRules(in.PlaceholderTokens),
		"bilingual_rule":    bilingualRule(in),
		"language_guard":    guardRule(in),
		"preferred_terms":   preferredTerms(in.PreferredTerms),
		"context":           contextSection(in.Context),
		"example":           exampleSection(in.TargetLang, in.Format),
	}
	if in.Format == translator.FormatFramed {
		texts := make([]string, len(in.Blocks))
		for i, blk := range in.Blocks {
			texts[i] = blk.SourceText
		}
		vars["blocks"] = translator.Frame(texts)
	} else {
		payload, err := blocksJSON(in)
		if err != nil {
			return "", "", err
		}
		vars["blocks_json"] = payload
	}
	return Render(sysTmpl, vars), Render(userTmpl, vars), nil
}

// ExtractInput describes a glossary extraction request.
type ExtractInput struct {
	SourceLang string
	TargetLang string
	Text       string
	Limit      int
	// Known terms are listed so the model does not propose them again.
	Known []internal.PreferredTerm
}

// BuildExtract renders the single prompt asking a model for candidate
// glossary pairs.
func (b *Builder) BuildExtract(in ExtractInput) (string, error) {
	tmpl, err := b.Template(GlossaryExtract)
	if err != nil {
		return "", err
	}
	known := ""
	if len(in.Known) > 0 {
		known = strings.Replace(preferredTerms(in.Known), "Preferred terms (use these exact translations):",
			"Already in the glossary (do not repeat):", 1)
	}
	return Render(tmpl, map[string]string{
		"source_label":    Label(in.SourceLang),
		"source_code":     sourceCode(in.SourceLang),
		"target_label":    Label(in.TargetLang),
		"target_code":     in.TargetLang,
		"limit":           strconv.Itoa(in.Limit),
		"language_hint":   Hint(in.TargetLang),
		"preferred_terms": known,
		"text":            in.Text,
	}), nil
}

func sourceCode(code string) string {
	if code == "" {
		return "auto"
	}
	return code
}

type promptBlock struct {
	SlideIndex     int              `json:"slide_index"`
	ShapeID        internal.ShapeID `json:"shape_id"`
	BlockType      string           `json:"block_type"`
	SourceText     string           `json:"source_text"`
	TranslatedText string           `json:"translated_text"`
	ClientID       string           `json:"client_id,omitempty"`
}

func blocksJSON(in Input) (string, error) {
	blocks := make([]promptBlock, len(in.Blocks))
	for i, b := range in.Blocks {
		blocks[i] = promptBlock{
			SlideIndex: b.SlideIndex,
			ShapeID:    b.ShapeID,
			BlockType:  string(b.BlockType),
			SourceText: b.SourceText,
			ClientID:   b.ClientID,
		}
	}
	data, err := json.MarshalIndent(map[string]any{
		"document_language": sourceCode(in.SourceLang),
		"target_language":   in.TargetLang,
		"blocks":            blocks,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode blocks: %w", err)
	}
	return string(data), nil
}

func placeholderRules(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	seen := map[string]bool{}
	uniq := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			uniq = append(uniq, t)
		}
	}
	return "- " + placeholder.InstructionHint(uniq)
}

func bilingualRule(in Input) string {
	if !in.Bilingual {
		return ""
	}
	other := "a second language"
	if in.SecondaryLang != "" {
		other = Label(in.SecondaryLang)
	}
	return fmt.Sprintf("- Some blocks already contain %s next to the source text. Translate only the source part and copy the %s part byte-identical, in its original position.", other, other)
}

func guardRule(in Input) string {
	if in.Guard == nil {
		return ""
	}
	label := Label(in.TargetLang)
	rule := fmt.Sprintf("- LANGUAGE GUARD: the previous answer was not in %s. Every translation MUST be written in %s (%s). Do not copy the source text and do not answer in any other language.", label, label, in.TargetLang)
	if in.Guard.Diagnostic != "" {
		rule += "\n- Detected in the rejected answer: " + in.Guard.Diagnostic + "."
	}
	return rule
}

func preferredTerms(terms []internal.PreferredTerm) string {
	if len(terms) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Preferred terms (use these exact translations):\n")
	for _, t := range terms {
		fmt.Fprintf(&b, "- %s → %s\n", t.Source, t.Target)
	}
	return strings.TrimRight(b.String(), "\n")
}

func contextSection(ctx string) string {
	if strings.TrimSpace(ctx) == "" {
		return ""
	}
	return "Surrounding content for reference only (do not translate it):\n" + ctx
}

func exampleSection(target string, format translator.Format) string {
	src, tgt := Example(target)
	if src == "" {
		return ""
	}
	if format == translator.FormatFramed {
		return fmt.Sprintf("Example:\n<<<BLOCK:0>>>\n%s\n<<<END>>>\nbecomes\n<<<BLOCK:0>>>\n%s\n<<<END>>>", src, tgt)
	}
	return fmt.Sprintf("Example: {\"source_text\": %q, \"translated_text\": %q}", src, tgt)
}
