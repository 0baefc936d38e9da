// Package postprocess removes common LLM artifacts from provider output.
//
// Clean is applied to plain-text completions and to individual framed
// blocks; ExtractJSON isolates the contract object from a chat response
// that may be wrapped in reasoning, prose or code fences.
package postprocess

import (
	"regexp"
	"strings"
)

// cleaners run in order. Each receives and returns trimmed text.
var cleaners = []func(string) string{
	dropReasoning,
	dropLeadIn,
	dropTrailingNote,
	unquote,
}

// Clean strips reasoning blocks, lead-in phrases, trailing translator notes
// and wrapping quotes from a single translated text.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	for _, c := range cleaners {
		text = c(text)
	}
	return text
}

// RE2 has no backreferences, so each tag pair is listed.
var reasoningRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// An opened tag without its closer means the model was cut off mid-thought.
var openReasoningRe = regexp.MustCompile(`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`)

func dropReasoning(text string) string {
	text = reasoningRe.ReplaceAllString(text, "")
	text = openReasoningRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// leadInRe matches an introduction the model prepends to its answer. Every
// alternative ends in an ASCII or full-width colon so ordinary sentences
// starting with "Here is" survive.
var leadInRe = regexp.MustCompile(`(?i)^(?:` +
	`(?:certainly|sure|of course)[,.!]?\s+` +
	`)?(?:` +
	`here(?:'s| is| are)(?: the)? (?:translated |corrected |final )?(?:translations?|text|blocks?)` +
	`|(?:the )?(?:translations?|translated text|translated blocks?)` +
	`|bản dịch|dịch` +
	`|译文|譯文|翻译|翻譯` +
	`)\s*(?:\([^)]*\))?\s*[:：]`)

func dropLeadIn(text string) string {
	if loc := leadInRe.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[loc[1]:])
	}
	return text
}

// noteRe matches a final paragraph in which the model comments on its
// translation. Notes that do not mention translating are content.
var noteRe = regexp.MustCompile(`(?is)\n\s*\n\s*\(?(?:note|translator'?s note|ghi chú|注|備註|备注)\s*[:：][^\n]*(?:translat|dịch|译|譯).*$`)

func dropTrailingNote(text string) string {
	return strings.TrimSpace(noteRe.ReplaceAllString(text, ""))
}

// quotePairs lists opening and closing quote runes.
var quotePairs = []string{`""`, "''", "«»", "“”", "‘’"}

// unquote strips one pair of quotes wrapping the whole text. Text with
// further closing quotes inside is left alone, since the quotes are then
// likely part of the content.
func unquote(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	for _, p := range quotePairs {
		pair := []rune(p)
		if runes[0] != pair[0] || runes[n-1] != pair[1] {
			continue
		}
		inner := string(runes[1 : n-1])
		if strings.ContainsRune(inner, pair[1]) {
			return text
		}
		return strings.TrimSpace(inner)
	}
	return text
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)```")

// StripFences returns the body of the first fenced code block in text, or
// text unchanged when it has none.
func StripFences(text string) string {
	if m := fenceRe.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return text
}

// ExtractJSON returns the outermost JSON object or array found in a model
// response after reasoning blocks and code fences are removed. It returns ""
// when no balanced candidate exists.
func ExtractJSON(text string) string {
	text = StripFences(dropReasoning(text))
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	open := text[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
