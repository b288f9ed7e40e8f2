package dockerfile

import (
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Build Config
// =============================================================================

// BuildConfig is the parsed form of a Dockerfile.
type BuildConfig struct {
	BaseImage  string    // base image of the first stage
	GlobalArgs []Arg     // ARG instructions before the first FROM
	Stages     []Stage   // in declaration order
	Commands   []Command // every non-FROM instruction of every stage, in order
}

// Stage is one segment of a multi-stage build.
type Stage struct {
	Index     int
	Name      string // AS alias, empty when unnamed
	BaseImage string // empty for an implicit stage with no FROM
	Platform  string
	Commands  []Command
}

// Stage returns the stage named ref, ignoring case as COPY --from does, or
// the stage at index ref when ref is a number.
func (c *BuildConfig) Stage(ref string) (Stage, bool) {
	for _, s := range c.Stages {
		if s.Name != "" && strings.EqualFold(s.Name, ref) {
			return s, true
		}
	}
	if i, err := strconv.Atoi(ref); err == nil && i >= 0 && i < len(c.Stages) {
		return c.Stages[i], true
	}
	return Stage{}, false
}

// Exposed returns every port exposed by the final stage.
func (c *BuildConfig) Exposed() []Expose {
	if len(c.Stages) == 0 {
		return nil
	}
	var ports []Expose
	for _, cmd := range c.Stages[len(c.Stages)-1].Commands {
		if e, ok := cmd.(Expose); ok {
			ports = append(ports, e)
		}
	}
	return ports
}

// =============================================================================
// Commands
// =============================================================================

// Command is one instruction. The set of implementations is closed; use a
// type switch over the concrete types below.
type Command interface {
	Keyword() string
	command()
}

// KeyValue is an ordered key/value pair from ENV or LABEL.
type KeyValue struct {
	Key   string
	Value string
}

// From starts a new stage.
type From struct {
	Image    string
	Name     string
	Platform string
}

// Run executes a command. Exactly one of Shell or Exec is set.
type Run struct {
	Shell string
	Exec  []string
}

// Copy copies files from the build context or another stage.
type Copy struct {
	Sources []string
	Dest    string
	Owner   string
	From    string
	Chmod   string
	Link    bool
}

// Add copies files, URLs or archives into the image.
type Add struct {
	Sources []string
	Dest    string
	Owner   string
	Chmod   string
	Link    bool
}

// Env sets environment variables.
type Env struct {
	Pairs []KeyValue
}

// Expose declares a listening port.
type Expose struct {
	Port     uint16
	Protocol string // empty means tcp
}

// Volume declares mount points.
type Volume struct {
	Paths []string
}

// Cmd sets the default command. Exactly one of Shell or Exec is set.
type Cmd struct {
	Shell string
	Exec  []string
}

// Entrypoint sets the entrypoint. Exactly one of Shell or Exec is set.
type Entrypoint struct {
	Shell string
	Exec  []string
}

// HealthCheck configures the container health probe. Test starts with the
// mode tag: CMD, CMD-SHELL or NONE.
type HealthCheck struct {
	Test          []string
	Interval      time.Duration
	Timeout       time.Duration
	StartPeriod   time.Duration
	StartInterval time.Duration
	Retries       int
}

// Disabled reports whether the health check is HEALTHCHECK NONE.
func (h HealthCheck) Disabled() bool {
	return len(h.Test) > 0 && h.Test[0] == "NONE"
}

// Arg declares a build argument.
type Arg struct {
	Name    string
	Default *string
}

// Workdir sets the working directory.
type Workdir struct {
	Path string
}

// User sets the user and optional group.
type User struct {
	User  string
	Group string
}

// Label adds image metadata.
type Label struct {
	Pairs []KeyValue
}

// Maintainer sets the deprecated author field.
type Maintainer struct {
	Name string
}

// Shell sets the shell used by shell-form instructions.
type Shell struct {
	Exec []string
}

// StopSignal sets the signal sent to stop the container.
type StopSignal struct {
	Signal string
}

// OnBuild registers a trigger instruction.
type OnBuild struct {
	Command Command
}

func (From) Keyword() string        { return "FROM" }
func (Run) Keyword() string         { return "RUN" }
func (Copy) Keyword() string        { return "COPY" }
func (Add) Keyword() string         { return "ADD" }
func (Env) Keyword() string         { return "ENV" }
func (Expose) Keyword() string      { return "EXPOSE" }
func (Volume) Keyword() string      { return "VOLUME" }
func (Cmd) Keyword() string         { return "CMD" }
func (Entrypoint) Keyword() string  { return "ENTRYPOINT" }
func (HealthCheck) Keyword() string { return "HEALTHCHECK" }
func (Arg) Keyword() string         { return "ARG" }
func (Workdir) Keyword() string     { return "WORKDIR" }
func (User) Keyword() string        { return "USER" }
func (Label) Keyword() string       { return "LABEL" }
func (Maintainer) Keyword() string  { return "MAINTAINER" }
func (Shell) Keyword() string       { return "SHELL" }
func (StopSignal) Keyword() string  { return "STOPSIGNAL" }
func (OnBuild) Keyword() string     { return "ONBUILD" }

func (From) command()        {}
func (Run) command()         {}
func (Copy) command()        {}
func (Add) command()         {}
func (Env) command()         {}
func (Expose) command()      {}
func (Volume) command()      {}
func (Cmd) command()         {}
func (Entrypoint) command()  {}
func (HealthCheck) command() {}
func (Arg) command()         {}
func (Workdir) command()     {}
func (User) command()        {}
func (Label) command()       {}
func (Maintainer) command()  {}
func (Shell) command()       {}
func (StopSignal) command()  {}
func (OnBuild) command()     {}
