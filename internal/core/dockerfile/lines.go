package dockerfile

import (
	"iter"
	"strings"
	"unicode"
)

// =============================================================================
// Logical Lines
// =============================================================================

// Line is one logical instruction line.
type Line struct {
	Number int    // physical line the instruction starts on, 1-based
	Text   string // continuation-joined text, trimmed
}

// Lines returns the logical instruction lines of text.
//
// Physical lines ending in an unescaped backslash are joined with the next
// line. Blank lines and full-line comments are dropped unless they occur
// inside a quoted argument spanning a continuation. The sequence stops at the
// first *SyntaxError. Ranging over it again rescans text from the start.
func Lines(text string) iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		physical := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

		var (
			buf        strings.Builder
			start      int
			markerLine int
			quote      rune
			open       bool
		)

		for i, raw := range physical {
			num := i + 1
			trimmed := strings.TrimSpace(raw)

			if quote == 0 && (trimmed == "" || strings.HasPrefix(trimmed, "#")) {
				continue
			}

			if !open {
				start = num
				buf.Reset()
			}

			body, continued := splitContinuation(trimmed)
			quote = scanQuotes(body, quote)

			if buf.Len() > 0 && body != "" {
				buf.WriteByte(' ')
			}
			buf.WriteString(body)

			if continued {
				open = true
				markerLine = num
				continue
			}
			open = false

			if quote != 0 {
				yield(Line{}, &SyntaxError{Line: start, Reason: "unterminated quote", Err: ErrUnterminatedQuote})
				return
			}
			if buf.Len() == 0 {
				continue
			}
			if !yield(Line{Number: start, Text: buf.String()}, nil) {
				return
			}
		}

		if open {
			yield(Line{}, &SyntaxError{Line: markerLine, Reason: "dangling line continuation", Err: ErrDanglingContinuation})
		}
	}
}

// splitContinuation strips a trailing continuation marker. An even run of
// trailing backslashes is a sequence of escaped backslashes, not a marker.
func splitContinuation(s string) (string, bool) {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	if n%2 == 0 {
		return s, false
	}
	return strings.TrimRightFunc(s[:len(s)-1], unicode.IsSpace), true
}

// scanQuotes returns the quote still open at the end of s, given the quote
// open at its start. Backslash escapes are honored outside single quotes.
func scanQuotes(s string, quote rune) rune {
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		}
	}
	return quote
}
