package translator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/valpere/doctran/internal"
	"github.com/valpere/doctran/internal/apperr"
	"github.com/valpere/doctran/internal/postprocess"
)

// wireBlock mirrors a contract block as returned by a model. Pointer fields
// distinguish a missing key from a zero value.
type wireBlock struct {
	SlideIndex     *json.Number      `json:"slide_index"`
	ShapeID        *internal.ShapeID `json:"shape_id"`
	BlockType      *string           `json:"block_type"`
	SourceText     *string           `json:"source_text"`
	TranslatedText *string           `json:"translated_text"`
	ClientID       string            `json:"client_id,omitempty"`
}

func (w wireBlock) missing() string {
	switch {
	case w.SlideIndex == nil:
		return "slide_index"
	case w.ShapeID == nil:
		return "shape_id"
	case w.BlockType == nil:
		return "block_type"
	case w.SourceText == nil:
		return "source_text"
	case w.TranslatedText == nil:
		return "translated_text"
	}
	return ""
}

// ParseContract validates a JSON model response against the blocks that
// were sent and returns copies of expected carrying the translated text.
// The response may be a contract object or a bare block array.
func ParseContract(raw string, expected []internal.Block) ([]internal.Block, error) {
	body := postprocess.ExtractJSON(raw)
	if body == "" {
		return nil, apperr.New(apperr.KindContract, "response contains no JSON")
	}

	var wire []wireBlock
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &wire); err != nil {
			return nil, apperr.Wrap(apperr.KindContract, err, "decode block array")
		}
	} else {
		var env struct {
			Blocks *[]wireBlock `json:"blocks"`
		}
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			return nil, apperr.Wrap(apperr.KindContract, err, "decode contract")
		}
		if env.Blocks == nil {
			return nil, apperr.New(apperr.KindContract, "contract has no blocks")
		}
		wire = *env.Blocks
	}

	if len(wire) != len(expected) {
		return nil, apperr.New(apperr.KindContract, "expected %d blocks, got %d", len(expected), len(wire))
	}

	out := make([]internal.Block, len(expected))
	for i, w := range wire {
		if field := w.missing(); field != "" {
			return nil, apperr.New(apperr.KindContract, "block %d: missing %s", i, field)
		}
		idx, err := w.SlideIndex.Int64()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindContract, err, "block %d: slide_index", i)
		}
		exp := expected[i]
		if int(idx) != exp.SlideIndex || w.ShapeID.String() != exp.ShapeID.String() {
			return nil, apperr.New(apperr.KindContract, "block %d: got %d:%s, want %d:%s",
				i, idx, w.ShapeID, exp.SlideIndex, exp.ShapeID)
		}
		exp.TranslatedText = *w.TranslatedText
		out[i] = exp
	}
	return out, nil
}

const (
	frameOpen  = "<<<BLOCK:%d>>>"
	frameClose = "<<<END>>>"
)

var frameRe = regexp.MustCompile(`(?s)<<<BLOCK:(\d+)>>>\s*(.*?)\s*<<<END>>>`)

// Frame renders texts in the framed plaintext format used for small local
// models.
func Frame(texts []string) string {
	var b strings.Builder
	for i, t := range texts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, frameOpen, i)
		b.WriteByte('\n')
		b.WriteString(t)
		b.WriteByte('\n')
		b.WriteString(frameClose)
	}
	return b.String()
}

// ParseFramed rebuilds the contract from a framed response. Every frame
// index of expected must be present exactly once.
func ParseFramed(raw string, expected []internal.Block) ([]internal.Block, error) {
	matches := frameRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, apperr.New(apperr.KindContract, "response contains no frames")
	}
	texts := make(map[int]string, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 || n >= len(expected) {
			return nil, apperr.New(apperr.KindContract, "unexpected frame index %s", m[1])
		}
		if _, dup := texts[n]; dup {
			return nil, apperr.New(apperr.KindContract, "duplicate frame %d", n)
		}
		texts[n] = m[2]
	}

	out := make([]internal.Block, len(expected))
	for i, exp := range expected {
		t, ok := texts[i]
		if !ok {
			return nil, apperr.New(apperr.KindContract, "missing frame %d", i)
		}
		exp.TranslatedText = postprocess.Clean(t)
		out[i] = exp
	}
	return out, nil
}

// parse dispatches on the requested response format.
func parse(format Format, raw string, expected []internal.Block) ([]internal.Block, error) {
	if format == FormatFramed {
		return ParseFramed(raw, expected)
	}
	return ParseContract(raw, expected)
}
