package dockerfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// Serialization
// =============================================================================

// String renders the config as canonical Dockerfile text. Parsing the result
// yields an equal BuildConfig.
func (c *BuildConfig) String() string {
	var b strings.Builder
	for _, a := range c.GlobalArgs {
		b.WriteString(Format(a))
		b.WriteByte('\n')
	}
	for _, s := range c.Stages {
		if s.BaseImage != "" {
			b.WriteString(Format(From{Image: s.BaseImage, Name: s.Name, Platform: s.Platform}))
			b.WriteByte('\n')
		}
		for _, cmd := range s.Commands {
			b.WriteString(Format(cmd))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Format renders one instruction as a Dockerfile line.
func Format(cmd Command) string {
	return format(cmd, true)
}

// format renders cmd. When expand is set, the instruction will be subject to
// variable substitution on the next parse, so literal references are escaped.
func format(cmd Command, expand bool) string {
	esc := func(s string) string {
		if expand {
			return escapeDollar(s)
		}
		return s
	}
	words := func(ws ...string) string {
		quoted := make([]string, len(ws))
		for i, w := range ws {
			quoted[i] = esc(quoteWord(w))
		}
		return strings.Join(quoted, " ")
	}
	pairs := func(kvs []KeyValue) string {
		parts := make([]string, len(kvs))
		for i, kv := range kvs {
			parts[i] = esc(quoteWord(kv.Key) + "=" + quoteWord(kv.Value))
		}
		return strings.Join(parts, " ")
	}

	switch c := cmd.(type) {
	case From:
		parts := []string{"FROM"}
		if c.Platform != "" {
			parts = append(parts, "--platform="+esc(c.Platform))
		}
		parts = append(parts, esc(c.Image))
		if c.Name != "" {
			parts = append(parts, "AS", c.Name)
		}
		return strings.Join(parts, " ")

	case Run:
		return "RUN " + shellOrExec(c.Shell, c.Exec)

	case Cmd:
		return "CMD " + shellOrExec(c.Shell, c.Exec)

	case Entrypoint:
		return "ENTRYPOINT " + shellOrExec(c.Shell, c.Exec)

	case Copy:
		parts := []string{"COPY"}
		if c.From != "" {
			parts = append(parts, "--from="+esc(c.From))
		}
		parts = append(parts, fileOpFlags(c.Owner, c.Chmod, c.Link, esc)...)
		parts = append(parts, words(append(append([]string{}, c.Sources...), c.Dest)...))
		return strings.Join(parts, " ")

	case Add:
		parts := []string{"ADD"}
		parts = append(parts, fileOpFlags(c.Owner, c.Chmod, c.Link, esc)...)
		parts = append(parts, words(append(append([]string{}, c.Sources...), c.Dest)...))
		return strings.Join(parts, " ")

	case Env:
		return "ENV " + pairs(c.Pairs)

	case Label:
		return "LABEL " + pairs(c.Pairs)

	case Expose:
		if c.Protocol == "" {
			return fmt.Sprintf("EXPOSE %d", c.Port)
		}
		return fmt.Sprintf("EXPOSE %d/%s", c.Port, c.Protocol)

	case Volume:
		return "VOLUME " + words(c.Paths...)

	case HealthCheck:
		return formatHealthCheck(c)

	case Arg:
		if c.Default == nil {
			return "ARG " + c.Name
		}
		return "ARG " + esc(c.Name+"="+quoteWord(*c.Default))

	case Workdir:
		return "WORKDIR " + words(c.Path)

	case User:
		if c.Group == "" {
			return "USER " + esc(c.User)
		}
		return "USER " + esc(c.User+":"+c.Group)

	case Maintainer:
		return "MAINTAINER " + c.Name

	case Shell:
		return "SHELL " + jsonArray(c.Exec)

	case StopSignal:
		return "STOPSIGNAL " + esc(c.Signal)

	case OnBuild:
		return "ONBUILD " + format(c.Command, false)
	}

	panic(fmt.Sprintf("dockerfile: unhandled command type %T", cmd))
}

func fileOpFlags(owner, chmod string, link bool, esc func(string) string) []string {
	var flags []string
	if owner != "" {
		flags = append(flags, "--chown="+esc(owner))
	}
	if chmod != "" {
		flags = append(flags, "--chmod="+esc(chmod))
	}
	if link {
		flags = append(flags, "--link")
	}
	return flags
}

func formatHealthCheck(h HealthCheck) string {
	parts := []string{"HEALTHCHECK"}
	durations := []struct {
		flag string
		d    time.Duration
	}{
		{"--interval", h.Interval},
		{"--timeout", h.Timeout},
		{"--start-period", h.StartPeriod},
		{"--start-interval", h.StartInterval},
	}
	for _, d := range durations {
		if d.d > 0 {
			parts = append(parts, d.flag+"="+d.d.String())
		}
	}
	if h.Retries > 0 {
		parts = append(parts, fmt.Sprintf("--retries=%d", h.Retries))
	}

	switch {
	case h.Disabled():
		parts = append(parts, "NONE")
	case len(h.Test) == 2 && h.Test[0] == "CMD-SHELL":
		parts = append(parts, "CMD", h.Test[1])
	case len(h.Test) > 0:
		parts = append(parts, "CMD", jsonArray(h.Test[1:]))
	}
	return strings.Join(parts, " ")
}

func shellOrExec(shell string, exec []string) string {
	if exec != nil {
		return jsonArray(exec)
	}
	return shell
}

func jsonArray(items []string) string {
	if items == nil {
		items = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a []string cannot fail.
	_ = enc.Encode(items)
	return strings.TrimSuffix(buf.String(), "\n")
}

// wordSpecial lists the characters that force a word to be quoted.
const wordSpecial = " \t\"'\\;&|<>()`#"

// quoteWord quotes s so that a shell-word split returns it unchanged.
func quoteWord(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, wordSpecial) {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

var dollarRefRegex = regexp.MustCompile(`\$[{A-Za-z_]`)

// escapeDollar protects literal variable references from substitution.
func escapeDollar(s string) string {
	return dollarRefRegex.ReplaceAllStringFunc(s, func(m string) string {
		return `\` + m
	})
}
