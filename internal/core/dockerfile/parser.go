package dockerfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// expander substitutes variables into instruction arguments. words is set
// when the result is split into shell words afterwards.
type expander func(s string, words bool) string

// argNameRegex matches valid ARG names.
var argNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// =============================================================================
// Main Parser
// =============================================================================

// Parse reads Dockerfile text into a BuildConfig.
// Returns a *SyntaxError or *DockerfileError on the first invalid line; a
// partial config is never returned.
func Parse(text string) (*BuildConfig, error) {
	st := newParseState()

	for line, err := range Lines(text) {
		if err != nil {
			return nil, err
		}

		st, err = st.apply(line)
		if err != nil {
			var de *DockerfileError
			if errors.As(err, &de) {
				de.Line = line.Number
				return nil, de
			}
			return nil, NewDockerfileError(line.Number, err.Error(), err)
		}
	}

	return st.config(), nil
}

// =============================================================================
// Parse State
// =============================================================================

// parseState accumulates everything declared so far. apply returns the state
// updated with one more instruction.
type parseState struct {
	globals    map[string]string // ARGs before the first FROM
	globalArgs []Arg
	scope      map[string]string // ARG and ENV values visible in the current stage
	stages     []Stage
	commands   []Command
}

func newParseState() parseState {
	return parseState{
		globals: make(map[string]string),
		scope:   make(map[string]string),
	}
}

func (st parseState) config() *BuildConfig {
	cfg := &BuildConfig{
		GlobalArgs: st.globalArgs,
		Stages:     st.stages,
		Commands:   st.commands,
	}
	if len(st.stages) > 0 {
		cfg.BaseImage = st.stages[0].BaseImage
	}
	return cfg
}

func (st parseState) apply(line Line) (parseState, error) {
	keyword, rest := splitKeyword(line.Text)
	if !knownInstruction(keyword) {
		return st, errorf(ErrUnknownInstruction, "unknown instruction %q", keyword)
	}
	if rest == "" {
		return st, errorf(ErrMissingArguments, "%s requires at least one argument", keyword)
	}

	if keyword == "FROM" {
		from, err := parseFrom(substitute(rest, st.globals, false))
		if err != nil {
			return st, err
		}
		st.stages = append(st.stages, Stage{
			Index:     len(st.stages),
			Name:      from.Name,
			BaseImage: from.Image,
			Platform:  from.Platform,
		})
		st.scope = make(map[string]string)
		return st, nil
	}

	if keyword == "ARG" && len(st.stages) == 0 {
		args, err := parseArgs(rest, st.globals)
		if err != nil {
			return st, err
		}
		for _, a := range args {
			if a.Default != nil {
				st.globals[a.Name] = *a.Default
			}
			st.globalArgs = append(st.globalArgs, a)
		}
		return st, nil
	}

	cmds, err := parseCommand(keyword, rest, st.scope)
	if err != nil {
		return st, err
	}

	if len(st.stages) == 0 {
		st.stages = append(st.stages, Stage{Index: 0})
	}
	cur := &st.stages[len(st.stages)-1]

	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case Copy:
			if c.From != "" && !st.declared(c.From) {
				return st, errorf(ErrUnknownStage, "COPY --from=%s references a stage not declared before this line", c.From)
			}
		case Env:
			for _, kv := range c.Pairs {
				st.scope[kv.Key] = kv.Value
			}
		case Arg:
			switch {
			case c.Default != nil:
				st.scope[c.Name] = *c.Default
			default:
				if v, ok := st.globals[c.Name]; ok {
					st.scope[c.Name] = v
				}
			}
		}
		cur.Commands = append(cur.Commands, cmd)
		st.commands = append(st.commands, cmd)
	}

	return st, nil
}

// declared reports whether ref names a stage before the current one, by alias
// or index. References that look like image names are external and accepted.
func (st parseState) declared(ref string) bool {
	if strings.ContainsAny(ref, ":/@") {
		return true
	}
	earlier := st.stages[:len(st.stages)-1]
	for _, s := range earlier {
		if s.Name != "" && strings.EqualFold(s.Name, ref) {
			return true
		}
	}
	if i, err := strconv.Atoi(ref); err == nil {
		return i >= 0 && i < len(earlier)
	}
	return false
}

// =============================================================================
// Instruction Dispatch
// =============================================================================

var instructions = map[string]bool{
	"FROM": true, "RUN": true, "COPY": true, "ADD": true, "ENV": true,
	"EXPOSE": true, "VOLUME": true, "CMD": true, "ENTRYPOINT": true,
	"HEALTHCHECK": true, "ARG": true, "WORKDIR": true, "USER": true,
	"LABEL": true, "MAINTAINER": true, "SHELL": true, "STOPSIGNAL": true,
	"ONBUILD": true,
}

func knownInstruction(keyword string) bool {
	return instructions[keyword]
}

// splitKeyword splits a logical line into its upper-cased keyword and the
// trimmed argument remainder.
func splitKeyword(text string) (string, string) {
	i := strings.IndexAny(text, " \t")
	if i < 0 {
		return strings.ToUpper(text), ""
	}
	return strings.ToUpper(text[:i]), strings.TrimSpace(text[i+1:])
}

// parseCommand parses one non-FROM instruction. A nil scope disables variable
// substitution, as for ONBUILD triggers.
func parseCommand(keyword, rest string, scope map[string]string) ([]Command, error) {
	sub := expander(func(s string, words bool) string {
		if scope == nil {
			return s
		}
		return substitute(s, scope, words)
	})

	switch keyword {
	case "RUN":
		shell, exec, err := parseShellOrExec(rest)
		if err != nil {
			return nil, err
		}
		return []Command{Run{Shell: shell, Exec: exec}}, nil

	case "CMD":
		shell, exec, err := parseShellOrExec(rest)
		if err != nil {
			return nil, err
		}
		return []Command{Cmd{Shell: shell, Exec: exec}}, nil

	case "ENTRYPOINT":
		shell, exec, err := parseShellOrExec(rest)
		if err != nil {
			return nil, err
		}
		return []Command{Entrypoint{Shell: shell, Exec: exec}}, nil

	case "SHELL":
		if !looksLikeJSON(rest) {
			return nil, errorf(ErrInvalidJSONArray, "SHELL requires a JSON array")
		}
		exec, err := parseJSONArray(rest)
		if err != nil {
			return nil, err
		}
		if len(exec) == 0 {
			return nil, errorf(ErrMissingArguments, "SHELL requires at least one argument")
		}
		return []Command{Shell{Exec: exec}}, nil

	case "COPY", "ADD":
		return parseFileOp(keyword, rest, sub)

	case "ENV":
		pairs, err := parsePairs(keyword, sub(rest, true))
		if err != nil {
			return nil, err
		}
		return []Command{Env{Pairs: pairs}}, nil

	case "LABEL":
		pairs, err := parsePairs(keyword, sub(rest, true))
		if err != nil {
			return nil, err
		}
		return []Command{Label{Pairs: pairs}}, nil

	case "EXPOSE":
		return parseExpose(sub(rest, false))

	case "VOLUME":
		paths, err := parseWordsOrJSON(rest, sub)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, errorf(ErrMissingArguments, "VOLUME requires at least one path")
		}
		return []Command{Volume{Paths: paths}}, nil

	case "HEALTHCHECK":
		hc, err := parseHealthCheck(rest)
		if err != nil {
			return nil, err
		}
		return []Command{hc}, nil

	case "ARG":
		args, err := parseArgs(rest, scope)
		if err != nil {
			return nil, err
		}
		cmds := make([]Command, len(args))
		for i, a := range args {
			cmds[i] = a
		}
		return cmds, nil

	case "WORKDIR":
		path := sub(rest, false)
		words, err := splitWords(sub(rest, true))
		if err != nil {
			return nil, err
		}
		if len(words) == 1 {
			path = words[0]
		}
		return []Command{Workdir{Path: path}}, nil

	case "USER":
		user, group, _ := strings.Cut(sub(rest, false), ":")
		return []Command{User{User: user, Group: group}}, nil

	case "STOPSIGNAL":
		signal := sub(rest, false)
		if strings.ContainsAny(signal, " \t") {
			return nil, errorf(ErrInvalidFlag, "STOPSIGNAL takes exactly one argument")
		}
		return []Command{StopSignal{Signal: signal}}, nil

	case "MAINTAINER":
		return []Command{Maintainer{Name: rest}}, nil

	case "ONBUILD":
		inner, innerRest := splitKeyword(rest)
		switch inner {
		case "ONBUILD", "FROM", "MAINTAINER":
			return nil, errorf(ErrInvalidTrigger, "%s is not allowed as an ONBUILD trigger", inner)
		}
		if !knownInstruction(inner) {
			return nil, errorf(ErrUnknownInstruction, "unknown instruction %q", inner)
		}
		if innerRest == "" {
			return nil, errorf(ErrMissingArguments, "%s requires at least one argument", inner)
		}
		cmds, err := parseCommand(inner, innerRest, nil)
		if err != nil {
			return nil, err
		}
		out := make([]Command, len(cmds))
		for i, c := range cmds {
			out[i] = OnBuild{Command: c}
		}
		return out, nil
	}

	return nil, errorf(ErrUnknownInstruction, "unknown instruction %q", keyword)
}

// =============================================================================
// Instruction Parsers
// =============================================================================

func parseFrom(rest string) (From, error) {
	var from From
	fields := strings.Fields(rest)

	for len(fields) > 0 && strings.HasPrefix(fields[0], "--") {
		name, value, _ := strings.Cut(strings.TrimPrefix(fields[0], "--"), "=")
		if name != "platform" || value == "" {
			return From{}, errorf(ErrInvalidFlag, "FROM does not support flag %q", fields[0])
		}
		from.Platform = value
		fields = fields[1:]
	}

	switch {
	case len(fields) == 1:
		from.Image = fields[0]
	case len(fields) == 3 && strings.EqualFold(fields[1], "AS"):
		from.Image = fields[0]
		from.Name = fields[2]
	case len(fields) == 0:
		return From{}, errorf(ErrMissingArguments, "FROM requires an image")
	default:
		return From{}, errorf(ErrMissingArguments, "FROM expects <image> [AS <name>], got %q", rest)
	}
	return from, nil
}

// parseShellOrExec returns the exec form when rest is a JSON array and the raw
// shell form otherwise.
func parseShellOrExec(rest string) (string, []string, error) {
	if !looksLikeJSON(rest) {
		return rest, nil, nil
	}
	exec, err := parseJSONArray(rest)
	if err != nil {
		return "", nil, err
	}
	return "", exec, nil
}

func parseFileOp(keyword, rest string, sub expander) ([]Command, error) {
	var (
		from, owner, chmod string
		link               bool
	)

	for strings.HasPrefix(rest, "--") {
		flag, remainder, _ := strings.Cut(rest, " ")
		flag = sub(flag, false)
		name, value, hasValue := strings.Cut(strings.TrimPrefix(flag, "--"), "=")
		switch {
		case name == "from" && keyword == "COPY" && value != "":
			from = value
		case name == "chown" && value != "":
			owner = value
		case name == "chmod" && value != "":
			chmod = value
		case name == "link" && (!hasValue || value == "true"):
			link = true
		case name == "link" && value == "false":
			link = false
		default:
			return nil, errorf(ErrInvalidFlag, "%s does not support flag %q", keyword, flag)
		}
		rest = strings.TrimSpace(remainder)
	}

	args, err := parseWordsOrJSON(rest, sub)
	if err != nil {
		return nil, err
	}
	for _, a := range args {
		if strings.HasPrefix(a, "--") {
			return nil, errorf(ErrInvalidFlag, "%s flag %q must precede source and destination", keyword, a)
		}
	}
	if len(args) < 2 {
		return nil, errorf(ErrMissingArguments, "%s requires at least one source and a destination", keyword)
	}

	sources, dest := args[:len(args)-1], args[len(args)-1]
	if keyword == "ADD" {
		return []Command{Add{Sources: sources, Dest: dest, Owner: owner, Chmod: chmod, Link: link}}, nil
	}
	return []Command{Copy{Sources: sources, Dest: dest, Owner: owner, From: from, Chmod: chmod, Link: link}}, nil
}

// parsePairs parses ENV/LABEL arguments: key=value pairs or a single legacy
// "key value" pair.
func parsePairs(keyword, rest string) ([]KeyValue, error) {
	words, err := splitWords(rest)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, errorf(ErrMissingArguments, "%s requires at least one argument", keyword)
	}

	if !strings.Contains(words[0], "=") {
		if len(words) < 2 {
			return nil, errorf(ErrInvalidPair, "%s %s is missing a value", keyword, words[0])
		}
		return []KeyValue{{Key: words[0], Value: strings.Join(words[1:], " ")}}, nil
	}

	pairs := make([]KeyValue, 0, len(words))
	for _, w := range words {
		key, value, ok := strings.Cut(w, "=")
		if !ok || key == "" {
			return nil, errorf(ErrInvalidPair, "%s expects key=value, got %q", keyword, w)
		}
		pairs = append(pairs, KeyValue{Key: key, Value: value})
	}
	return pairs, nil
}

func parseArgs(rest string, scope map[string]string) ([]Arg, error) {
	if scope != nil {
		rest = substitute(rest, scope, true)
	}
	words, err := splitWords(rest)
	if err != nil {
		return nil, err
	}

	args := make([]Arg, 0, len(words))
	for _, w := range words {
		name, value, hasDefault := strings.Cut(w, "=")
		if !argNameRegex.MatchString(name) {
			return nil, errorf(ErrInvalidPair, "invalid ARG name %q", name)
		}
		arg := Arg{Name: name}
		if hasDefault {
			v := value
			arg.Default = &v
		}
		args = append(args, arg)
	}
	return args, nil
}

func parseExpose(rest string) ([]Command, error) {
	var cmds []Command
	for _, field := range strings.Fields(rest) {
		portSpec, proto, _ := strings.Cut(field, "/")
		proto = strings.ToLower(proto)
		switch proto {
		case "", "tcp", "udp", "sctp":
		default:
			return nil, errorf(ErrInvalidPort, "invalid protocol in EXPOSE %q", field)
		}

		lo, hi, isRange := strings.Cut(portSpec, "-")
		first, err := parsePort(lo)
		if err != nil {
			return nil, errorf(ErrInvalidPort, "invalid port in EXPOSE %q", field)
		}
		last := first
		if isRange {
			if last, err = parsePort(hi); err != nil || last < first {
				return nil, errorf(ErrInvalidPort, "invalid port range in EXPOSE %q", field)
			}
		}
		for p := int(first); p <= int(last); p++ {
			cmds = append(cmds, Expose{Port: uint16(p), Protocol: proto})
		}
	}
	return cmds, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return uint16(n), nil
}

func parseHealthCheck(rest string) (HealthCheck, error) {
	var hc HealthCheck

	for strings.HasPrefix(rest, "--") {
		flag, remainder, _ := strings.Cut(rest, " ")
		remainder = strings.TrimSpace(remainder)
		name, value, hasValue := strings.Cut(strings.TrimPrefix(flag, "--"), "=")
		if !hasValue {
			value, remainder, _ = strings.Cut(remainder, " ")
			remainder = strings.TrimSpace(remainder)
		}

		var err error
		switch name {
		case "interval":
			hc.Interval, err = parseFlagDuration(flag, value)
		case "timeout":
			hc.Timeout, err = parseFlagDuration(flag, value)
		case "start-period":
			hc.StartPeriod, err = parseFlagDuration(flag, value)
		case "start-interval":
			hc.StartInterval, err = parseFlagDuration(flag, value)
		case "retries":
			hc.Retries, err = strconv.Atoi(value)
			if err != nil || hc.Retries < 0 {
				err = errorf(ErrInvalidFlag, "HEALTHCHECK --retries must be a non-negative integer, got %q", value)
			}
		default:
			err = errorf(ErrInvalidFlag, "HEALTHCHECK does not support flag %q", flag)
		}
		if err != nil {
			return HealthCheck{}, err
		}
		rest = remainder
	}

	mode, probe := splitKeyword(rest)
	switch mode {
	case "NONE":
		if probe != "" {
			return HealthCheck{}, errorf(ErrInvalidFlag, "HEALTHCHECK NONE takes no arguments")
		}
		hc.Test = []string{"NONE"}
	case "CMD":
		if probe == "" {
			return HealthCheck{}, errorf(ErrMissingArguments, "HEALTHCHECK CMD requires a command")
		}
		shell, exec, err := parseShellOrExec(probe)
		if err != nil {
			return HealthCheck{}, err
		}
		if exec != nil {
			hc.Test = append([]string{"CMD"}, exec...)
		} else {
			hc.Test = []string{"CMD-SHELL", shell}
		}
	default:
		return HealthCheck{}, errorf(ErrMissingArguments, "HEALTHCHECK requires CMD or NONE")
	}
	return hc, nil
}

func parseFlagDuration(flag, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, errorf(ErrInvalidFlag, "HEALTHCHECK %s has invalid duration %q", flag, value)
	}
	return d, nil
}

// =============================================================================
// Argument Forms
// =============================================================================

// looksLikeJSON reports whether rest is meant as an exec-form JSON array.
// Shell test brackets such as "[ -f x ]" are not.
func looksLikeJSON(rest string) bool {
	if !strings.HasPrefix(rest, "[") {
		return false
	}
	inner := strings.TrimLeft(rest[1:], " \t")
	return strings.HasPrefix(inner, `"`) || strings.HasPrefix(inner, "]")
}

func parseJSONArray(rest string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(rest), &out); err != nil {
		return nil, errorf(ErrInvalidJSONArray, "malformed JSON array %s: %v", rest, err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// parseWordsOrJSON parses rest as a JSON array or as shell words,
// substituting variables in the form each one needs.
func parseWordsOrJSON(rest string, sub expander) ([]string, error) {
	if looksLikeJSON(rest) {
		return parseJSONArray(sub(rest, false))
	}
	return splitWords(sub(rest, true))
}

// splitWords splits s into shell words without expanding variables or
// backticks.
func splitWords(s string) ([]string, error) {
	p := shellwords.NewParser()
	p.ParseEnv = false
	p.ParseBacktick = false

	words, err := p.Parse(s)
	if err != nil {
		return nil, errorf(ErrUnterminatedQuote, "unbalanced quotes or invalid shell words in %q", s)
	}
	if p.Position >= 0 {
		return nil, errorf(ErrInvalidPair, "unexpected shell operator in %q", s)
	}
	return words, nil
}

func errorf(sentinel error, format string, args ...any) *DockerfileError {
	return NewDockerfileError(0, fmt.Sprintf(format, args...), sentinel)
}
