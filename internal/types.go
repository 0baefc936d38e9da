package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BlockType is the closed set of document block kinds accepted by the pipeline.
type BlockType string

const (
	BlockTextbox         BlockType = "textbox"
	BlockTableCell       BlockType = "table_cell"
	BlockNotes           BlockType = "notes"
	BlockMaster          BlockType = "master"
	BlockImageText       BlockType = "image_text"
	BlockPDFText         BlockType = "pdf_text_block"
	BlockSpreadsheetCell BlockType = "spreadsheet_cell"
	BlockComplexGraphic  BlockType = "complex_graphic"
)

var blockTypes = map[BlockType]bool{
	BlockTextbox:         true,
	BlockTableCell:       true,
	BlockNotes:           true,
	BlockMaster:          true,
	BlockImageText:       true,
	BlockPDFText:         true,
	BlockSpreadsheetCell: true,
	BlockComplexGraphic:  true,
}

func (t BlockType) Valid() bool { return blockTypes[t] }

// Container names the unit that slide_index counts for this block kind.
func (t BlockType) Container() string {
	switch t {
	case BlockSpreadsheetCell:
		return "sheet"
	case BlockPDFText:
		return "page"
	default:
		return "slide"
	}
}

func (t *BlockType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("block_type: %w", err)
	}
	bt := BlockType(s)
	if !bt.Valid() {
		return fmt.Errorf("block_type: unknown value %q", s)
	}
	*t = bt
	return nil
}

// Mode controls how a translation is written back into a block.
type Mode string

const (
	ModeDirect     Mode = "direct"
	ModeBilingual  Mode = "bilingual"
	ModeCorrection Mode = "correction"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeDirect, ModeBilingual, ModeCorrection:
		return true
	}
	return false
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if s == "" {
		*m = ""
		return nil
	}
	if !Mode(s).Valid() {
		return fmt.Errorf("mode: unknown value %q", s)
	}
	*m = Mode(s)
	return nil
}

// ShapeID is a shape identifier that may arrive as a JSON number or string.
// The original JSON kind is kept so responses echo it unchanged.
type ShapeID struct {
	value   string
	numeric bool
}

func IntShapeID(n int) ShapeID       { return ShapeID{value: strconv.Itoa(n), numeric: true} }
func StringShapeID(s string) ShapeID { return ShapeID{value: s} }

func (id ShapeID) String() string { return id.value }
func (id ShapeID) Numeric() bool  { return id.numeric }

func (id ShapeID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

func (id *ShapeID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("shape_id: %w", err)
		}
		*id = ShapeID{value: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("shape_id: %w", err)
	}
	*id = ShapeID{value: n.String(), numeric: true}
	return nil
}

// Block is one translatable unit of a document. Only TranslatedText,
// CorrectionTemp and TempTranslatedText are written by the pipeline.
type Block struct {
	SlideIndex         int             `json:"slide_index"`
	ShapeID            ShapeID         `json:"shape_id"`
	BlockType          BlockType       `json:"block_type"`
	SourceText         string          `json:"source_text"`
	TranslatedText     string          `json:"translated_text"`
	Mode               Mode            `json:"mode,omitempty"`
	ClientID           string          `json:"client_id,omitempty"`
	CorrectionTemp     string          `json:"correction_temp,omitempty"`
	TempTranslatedText string          `json:"temp_translated_text,omitempty"`
	Layout             json.RawMessage `json:"layout,omitempty"`
	Geometry           json.RawMessage `json:"geometry,omitempty"`
}

// Key identifies a block within a request: the client id when present,
// otherwise "<slide_index>:<shape_id>".
func (b Block) Key() string {
	if b.ClientID != "" {
		return b.ClientID
	}
	return strconv.Itoa(b.SlideIndex) + ":" + b.ShapeID.String()
}

// SameIdentity reports whether two blocks describe the same document position.
func (b Block) SameIdentity(o Block) bool {
	return b.SlideIndex == o.SlideIndex && b.ShapeID == o.ShapeID && b.BlockType == o.BlockType
}

// Contract is the request/response envelope exchanged with callers and LLMs.
type Contract struct {
	DocumentLanguage string  `json:"document_language"`
	TargetLanguage   string  `json:"target_language"`
	Blocks           []Block `json:"blocks"`
}

// RequestContext carries the per-request options that shape prompts and keys.
type RequestContext struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	TargetLanguage string `json:"target_language"`
	SourceLanguage string `json:"source_language,omitempty"`
	Tone           string `json:"tone,omitempty"`
	VisionContext  bool   `json:"vision_context,omitempty"`
	Domain         string `json:"domain,omitempty"`
	Category       string `json:"category,omitempty"`
	ScopeType      string `json:"scope_type,omitempty"`
	ScopeID        string `json:"scope_id,omitempty"`
}

// Subset serialises the fields that participate in TM hashing with a fixed
// key order so equal contexts always hash equally.
func (c RequestContext) Subset() string {
	var b strings.Builder
	b.WriteString("provider=")
	b.WriteString(c.Provider)
	b.WriteString(";model=")
	b.WriteString(c.Model)
	b.WriteString(";tone=")
	b.WriteString(c.Tone)
	b.WriteString(";vision=")
	b.WriteString(strconv.FormatBool(c.VisionContext))
	return b.String()
}

// PreferredTerm is a ranked source→target pair that must be honoured.
type PreferredTerm struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Priority int    `json:"priority"`
	Origin   string `json:"origin,omitempty"`
}

// PreserveTerm is a term that must never be translated.
type PreserveTerm struct {
	ID            int64  `json:"id"`
	Term          string `json:"term"`
	Category      string `json:"category,omitempty"`
	CaseSensitive bool   `json:"case_sensitive"`
}

// Matches reports whether text, trimmed, is exactly this preserve term.
func (p PreserveTerm) Matches(text string) bool {
	text = strings.TrimSpace(text)
	if p.CaseSensitive {
		return text == p.Term
	}
	return strings.EqualFold(text, p.Term)
}

// Usage is the token accounting reported by a provider call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }
