package compose

import (
	"errors"
	"strings"

	"github.com/compose-spec/compose-go/v2/template"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Interpolation
// =============================================================================

// Options controls variable interpolation.
type Options struct {
	// Environment holds the variables available to ${VAR} references.
	Environment map[string]string

	// LookupEnv is consulted for variables missing from Environment,
	// typically os.LookupEnv. Nil disables the fallback.
	LookupEnv func(string) (string, bool)
}

func (o Options) mapping() template.Mapping {
	return func(name string) (string, bool) {
		if v, ok := o.Environment[name]; ok {
			return v, true
		}
		if o.LookupEnv != nil {
			return o.LookupEnv(name)
		}
		return "", false
	}
}

// interpolateNode substitutes variables in every string scalar under n.
// Mapping keys are left as written. Plain scalars are re-typed after
// substitution so "${PORT:-80}" can serve as a number.
func interpolateNode(n *yaml.Node, path string, mapping template.Mapping) error {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			if err := interpolateNode(c, path, mapping); err != nil {
				return err
			}
		}

	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if err := interpolateNode(n.Content[i+1], childPath(path, key), mapping); err != nil {
				return err
			}
		}

	case yaml.SequenceNode:
		for i, c := range n.Content {
			if err := interpolateNode(c, indexPath(path, i), mapping); err != nil {
				return err
			}
		}

	case yaml.ScalarNode:
		if n.ShortTag() != "!!str" || !strings.Contains(n.Value, "$") {
			return nil
		}
		out, err := interpolateString(n.Value, path, mapping)
		if err != nil {
			return err
		}
		n.Value = out
		if n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) == 0 {
			n.Tag = ""
		}
	}
	return nil
}

// interpolateString substitutes variable references in one value.
func interpolateString(s, path string, mapping template.Mapping) (string, error) {
	out, err := template.Substitute(s, mapping)
	if err != nil {
		var missing *template.MissingRequiredError
		if errors.As(err, &missing) {
			return "", &InterpolationError{Var: missing.Variable, Path: path, Reason: missing.Reason}
		}
		return "", NewComposeError(path, err.Error(), ErrInvalidTemplate)
	}
	return out, nil
}
