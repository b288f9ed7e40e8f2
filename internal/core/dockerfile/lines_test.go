package dockerfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectLines(t *testing.T, text string) ([]Line, error) {
	t.Helper()
	var out []Line
	for line, err := range Lines(text) {
		if err != nil {
			return out, err
		}
		out = append(out, line)
	}
	return out, nil
}

// =============================================================================
// Lines Tests
// =============================================================================

func TestLines_SkipsCommentsAndBlankLines(t *testing.T) {
	text := "# syntax comment\n\nFROM alpine\n   # indented comment\nRUN true\n"

	lines, err := collectLines(t, text)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, Line{Number: 3, Text: "FROM alpine"}, lines[0])
	assert.Equal(t, Line{Number: 5, Text: "RUN true"}, lines[1])
}

func TestLines_JoinsContinuations(t *testing.T) {
	text := "RUN apt-get update && \\\n    apt-get install -y curl \\\n    && rm -rf /var/lib/apt/lists/*\nUSER app"

	lines, err := collectLines(t, text)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, 1, lines[0].Number)
	assert.Equal(t, "RUN apt-get update && apt-get install -y curl && rm -rf /var/lib/apt/lists/*", lines[0].Text)
	assert.Equal(t, 4, lines[1].Number)
}

func TestLines_CommentInsideContinuationIsDropped(t *testing.T) {
	text := "RUN echo one \\\n# dropped\n    echo two"

	lines, err := collectLines(t, text)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "RUN echo one echo two", lines[0].Text)
}

func TestLines_CommentInsideQuotedArgumentIsKept(t *testing.T) {
	text := "RUN echo \"first \\\n# not a comment \\\nlast\""

	lines, err := collectLines(t, text)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, `RUN echo "first # not a comment last"`, lines[0].Text)
}

func TestLines_EscapedBackslashIsNotContinuation(t *testing.T) {
	text := "RUN echo foo\\\\\nRUN echo bar"

	lines, err := collectLines(t, text)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, `RUN echo foo\\`, lines[0].Text)
}

func TestLines_CRLF(t *testing.T) {
	lines, err := collectLines(t, "FROM alpine\r\nRUN a \\\r\n b\r\n")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "RUN a b", lines[1].Text)
}

func TestLines_DanglingContinuation(t *testing.T) {
	_, err := collectLines(t, "FROM alpine\nRUN echo \\")

	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, 2, syntaxErr.Line)
	assert.ErrorIs(t, err, ErrDanglingContinuation)
}

func TestLines_DanglingContinuationFollowedByComment(t *testing.T) {
	_, err := collectLines(t, "RUN echo \\\n# trailing\n")
	assert.ErrorIs(t, err, ErrDanglingContinuation)
}

func TestLines_UnterminatedQuote(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{"double", "FROM alpine\nLABEL a=\"b", 2},
		{"single", "RUN echo 'oops", 1},
		{"spans continuation", "ENV A=\"x \\\ny\nRUN true", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collectLines(t, tt.text)
			var syntaxErr *SyntaxError
			require.ErrorAs(t, err, &syntaxErr)
			assert.Equal(t, tt.line, syntaxErr.Line)
			assert.ErrorIs(t, err, ErrUnterminatedQuote)
		})
	}
}

func TestLines_EscapedQuoteDoesNotOpen(t *testing.T) {
	lines, err := collectLines(t, `RUN echo \"hi`)
	require.NoError(t, err)
	require.Len(t, lines, 1)
}

func TestLines_Restartable(t *testing.T) {
	seq := Lines("FROM a\nRUN b\nRUN c")

	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	assert.Equal(t, 3, first)
	assert.Equal(t, first, second)
}

func TestLines_EarlyBreak(t *testing.T) {
	count := 0
	for range Lines("FROM a\nRUN b\nRUN c") {
		count++
		break
	}
	assert.Equal(t, 1, count)
}
