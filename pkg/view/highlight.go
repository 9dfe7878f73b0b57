package view

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// highlighter applies chroma syntax highlighting to completed code
// blocks. Unknown languages fall back to content analysis, then plain
// text.
type highlighter struct {
	formatter chroma.Formatter
	style     *chroma.Style
}

func newHighlighter() *highlighter {
	formatter := formatters.Get("terminal16m")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	return &highlighter{
		formatter: formatter,
		style:     styles.Get("monokai"),
	}
}

func (h *highlighter) Highlight(code, language string) string {
	if code == "" {
		return ""
	}

	var lexer chroma.Lexer
	if language != "" {
		lexer = lexers.Get(language)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return code
	}
	return buf.String()
}
