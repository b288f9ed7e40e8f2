package dockerfile

import (
	"regexp"
	"strings"
)

// =============================================================================
// Variable Substitution
// =============================================================================

// varRefRegex matches $NAME, ${NAME}, ${NAME:-word} and ${NAME:+word}, with an
// optional escaping backslash.
// Groups:
//   - Group 1: escaping backslash (optional)
//   - Group 2: braced variable name
//   - Group 3: modifier, "-" or "+" (optional)
//   - Group 4: modifier word (optional)
//   - Group 5: bare variable name
var varRefRegex = regexp.MustCompile(`(\\?)\$(?:\{([A-Za-z_][A-Za-z0-9_]*)(?::([-+])([^}]*))?\}|([A-Za-z_][A-Za-z0-9_]*))`)

// shellSpecial is the set of characters escaped when a substituted value is
// later split into shell words.
const shellSpecial = " \t\"'\\"

// substitute replaces variable references in s with values from scope.
//
// Behavior:
//   - $NAME, ${NAME} - replaced with scope["NAME"] if declared, otherwise kept as-is
//   - ${NAME:-word} - scope["NAME"] if declared and non-empty, otherwise word
//   - ${NAME:+word} - word if NAME is declared and non-empty, otherwise empty
//   - \$NAME - the literal text $NAME
//
// When words is set, inserted values are backslash-escaped so that a later
// shell-word split keeps each value in one word.
func substitute(s string, scope map[string]string, words bool) string {
	if !strings.Contains(s, "$") {
		return s
	}

	return varRefRegex.ReplaceAllStringFunc(s, func(match string) string {
		m := varRefRegex.FindStringSubmatch(match)
		if m[1] != "" {
			return match[1:]
		}

		name := m[2]
		if name == "" {
			name = m[5]
		}
		val, ok := scope[name]

		var out string
		switch m[3] {
		case "-":
			out = val
			if !ok || val == "" {
				out = m[4]
			}
		case "+":
			if ok && val != "" {
				out = m[4]
			}
		default:
			if !ok {
				return match
			}
			out = val
		}

		if words {
			return escapeWord(out)
		}
		return out
	})
}

func escapeWord(s string) string {
	if !strings.ContainsAny(s, shellSpecial) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(shellSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
