// Package markdown reduces lightly formatted block text to plain text so
// language detection sees words rather than markup.
package markdown

import (
	"html"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Plain renders text as markdown, drops the resulting tags, decodes
// entities and collapses blank space. Line structure survives; empty lines
// do not.
func Plain(text string) string {
	doc := parser.NewWithExtensions(parser.CommonExtensions).Parse([]byte(text))
	rendered := markdown.Render(doc, mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags}))
	plain := html.UnescapeString(StripTags(string(rendered)))

	var b strings.Builder
	for _, line := range strings.Split(plain, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

// StripTags removes everything between '<' and the next '>'. A '>' outside
// a tag is kept.
func StripTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
