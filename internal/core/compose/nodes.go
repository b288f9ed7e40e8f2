package compose

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// YAML Node Helpers
// =============================================================================

// pair is one key/value entry of a YAML mapping.
type pair struct {
	key   string
	value *yaml.Node
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	n = resolve(n)
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a list"
	case yaml.ScalarNode:
		if isNull(n) {
			return "null"
		}
		return "a scalar"
	}
	return "an unexpected node"
}

func typeError(path, want string, n *yaml.Node) *ComposeError {
	return NewComposeError(path, fmt.Sprintf("must be %s, got %s", want, kindName(n)), ErrInvalidType)
}

func unsupported(path string) *ComposeError {
	return NewComposeError(path, "unsupported key", ErrUnsupportedFeature)
}

// mappingPairs returns the entries of a mapping node in document order. Merge
// keys ("<<") contribute the entries they reference unless overridden.
func mappingPairs(n *yaml.Node, path string) ([]pair, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, typeError(path, "a mapping", n)
	}

	var merged, explicit []pair
	seen := make(map[string]bool)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Value == "<<" && k.ShortTag() == "!!merge" {
			sources := []*yaml.Node{resolve(v)}
			if sources[0].Kind == yaml.SequenceNode {
				sources = sources[0].Content
			}
			for _, src := range sources {
				ps, err := mappingPairs(src, path)
				if err != nil {
					return nil, err
				}
				merged = append(merged, ps...)
			}
			continue
		}
		if seen[k.Value] {
			return nil, NewComposeError(childPath(path, k.Value), "duplicate key", ErrInvalidYAML)
		}
		seen[k.Value] = true
		explicit = append(explicit, pair{key: k.Value, value: v})
	}

	var out []pair
	for _, p := range merged {
		if !seen[p.key] {
			seen[p.key] = true
			out = append(out, p)
		}
	}
	return append(out, explicit...), nil
}

// sequenceItems returns the items of a sequence node.
func sequenceItems(n *yaml.Node, path string) ([]*yaml.Node, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, typeError(path, "a list", n)
	}
	return n.Content, nil
}

// scalarString returns the text of a scalar node. Null yields "".
func scalarString(n *yaml.Node, path string) (string, error) {
	n = resolve(n)
	if isNull(n) {
		return "", nil
	}
	if n.Kind != yaml.ScalarNode {
		return "", typeError(path, "a scalar", n)
	}
	return n.Value, nil
}

func boolValue(n *yaml.Node, path string) (bool, error) {
	s, err := scalarString(n, path)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, NewComposeError(path, fmt.Sprintf("must be a boolean, got %q", s), ErrInvalidType)
	}
	return b, nil
}

func intValue(n *yaml.Node, path string) (int, error) {
	s, err := scalarString(n, path)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, NewComposeError(path, fmt.Sprintf("must be an integer, got %q", s), ErrInvalidType)
	}
	return i, nil
}

func durationValue(n *yaml.Node, path string) (time.Duration, error) {
	s, err := scalarString(n, path)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, NewComposeError(path, fmt.Sprintf("invalid duration %q", s), ErrInvalidDuration)
	}
	return d, nil
}

// stringList accepts a list of scalars, or a single scalar which is split
// into shell words when split is set.
func stringList(n *yaml.Node, path string, split bool) ([]string, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind == yaml.ScalarNode {
		if !split {
			return []string{n.Value}, nil
		}
		parser := shellwords.NewParser()
		words, err := parser.Parse(n.Value)
		if err != nil {
			return nil, NewComposeError(path, fmt.Sprintf("cannot split %q into words: %v", n.Value, err), ErrInvalidType)
		}
		if parser.Position >= 0 {
			return nil, NewComposeError(path, fmt.Sprintf("shell operators in %q need an explicit shell, e.g. [\"sh\", \"-c\", ...]", n.Value), ErrInvalidType)
		}
		return words, nil
	}

	items, err := sequenceItems(n, path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, err := scalarString(item, indexPath(path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// stringMap accepts a mapping of scalars or a list of "KEY=value" strings.
// Keys given without a value are returned in bare.
func stringMap(n *yaml.Node, path string) (map[string]string, []string, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil, nil
	}

	out := make(map[string]string)
	var bare []string

	if n.Kind == yaml.SequenceNode {
		for i, item := range n.Content {
			s, err := scalarString(item, indexPath(path, i))
			if err != nil {
				return nil, nil, err
			}
			key, value, ok := strings.Cut(s, "=")
			if key == "" {
				return nil, nil, NewComposeError(indexPath(path, i), fmt.Sprintf("expected KEY=value, got %q", s), ErrInvalidType)
			}
			if !ok {
				bare = append(bare, key)
				continue
			}
			out[key] = value
		}
		return out, bare, nil
	}

	pairs, err := mappingPairs(n, path)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range pairs {
		if isNull(p.value) {
			bare = append(bare, p.key)
			continue
		}
		s, err := scalarString(p.value, childPath(path, p.key))
		if err != nil {
			return nil, nil, err
		}
		out[p.key] = s
	}
	return out, bare, nil
}

// nameSet accepts a list of names or a mapping whose keys are names, and
// returns them in document order without duplicates.
func nameSet(n *yaml.Node, path string) ([]string, []pair, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil, nil
	}

	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	if n.Kind == yaml.SequenceNode {
		for i, item := range n.Content {
			s, err := scalarString(item, indexPath(path, i))
			if err != nil {
				return nil, nil, err
			}
			add(s)
		}
		return names, nil, nil
	}

	pairs, err := mappingPairs(n, path)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range pairs {
		add(p.key)
	}
	return names, pairs, nil
}
