package dockerfile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const multiStageDockerfile = `
ARG GO_VERSION=1.24
FROM golang:${GO_VERSION} AS builder
WORKDIR /src
COPY go.mod go.sum ./
RUN go mod download
COPY . .
RUN CGO_ENABLED=0 go build -o /out/app ./cmd/app

FROM --platform=linux/amd64 gcr.io/distroless/static AS final
COPY --from=builder --chown=nonroot:nonroot /out/app /app
EXPOSE 8080/tcp 9090
USER nonroot:nonroot
ENTRYPOINT ["/app"]
`

func strPtr(s string) *string {
	return &s
}

func mustParse(t *testing.T, text string) *BuildConfig {
	t.Helper()
	cfg, err := Parse(text)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	return cfg
}

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_SimpleDockerfile(t *testing.T) {
	cfg := mustParse(t, "FROM rust:1.70\nRUN cargo build\nCOPY ./target /app")

	assert.Equal(t, "rust:1.70", cfg.BaseImage)
	assert.Equal(t, []Command{
		Run{Shell: "cargo build"},
		Copy{Sources: []string{"./target"}, Dest: "/app"},
	}, cfg.Commands)
	require.Len(t, cfg.Stages, 1)
	assert.Empty(t, cfg.Stages[0].Name)
	assert.Equal(t, cfg.Commands, cfg.Stages[0].Commands)
}

func TestParse_EmptyInput(t *testing.T) {
	cfg := mustParse(t, "\n# only a comment\n")
	assert.Empty(t, cfg.BaseImage)
	assert.Empty(t, cfg.Stages)
	assert.Empty(t, cfg.Commands)
}

func TestParse_MultiStage(t *testing.T) {
	cfg := mustParse(t, multiStageDockerfile)

	assert.Equal(t, "golang:1.24", cfg.BaseImage)
	require.Len(t, cfg.GlobalArgs, 1)
	assert.Equal(t, Arg{Name: "GO_VERSION", Default: strPtr("1.24")}, cfg.GlobalArgs[0])

	require.Len(t, cfg.Stages, 2)
	builder, final := cfg.Stages[0], cfg.Stages[1]
	assert.Equal(t, "builder", builder.Name)
	assert.Equal(t, 0, builder.Index)
	assert.Len(t, builder.Commands, 5)

	assert.Equal(t, "final", final.Name)
	assert.Equal(t, "gcr.io/distroless/static", final.BaseImage)
	assert.Equal(t, "linux/amd64", final.Platform)
	assert.Equal(t, Copy{
		Sources: []string{"/out/app"},
		Dest:    "/app",
		Owner:   "nonroot:nonroot",
		From:    "builder",
	}, final.Commands[0])

	assert.Len(t, cfg.Commands, len(builder.Commands)+len(final.Commands))
	assert.Equal(t, []Expose{{Port: 8080, Protocol: "tcp"}, {Port: 9090}}, cfg.Exposed())
}

func TestParse_StageLookup(t *testing.T) {
	cfg := mustParse(t, multiStageDockerfile)

	s, ok := cfg.Stage("final")
	require.True(t, ok)
	assert.Equal(t, 1, s.Index)

	s, ok = cfg.Stage("0")
	require.True(t, ok)
	assert.Equal(t, "builder", s.Name)

	s, ok = cfg.Stage("Builder")
	require.True(t, ok, "stage names match regardless of case")
	assert.Equal(t, 0, s.Index)

	_, ok = cfg.Stage("missing")
	assert.False(t, ok)
}

func TestParse_CopyFromUndeclaredStage(t *testing.T) {
	text := "FROM alpine\nRUN true\nCOPY --from=builder /bin/app /app"

	_, err := Parse(text)
	var dfErr *DockerfileError
	require.ErrorAs(t, err, &dfErr)
	assert.Equal(t, 3, dfErr.Line)
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestParse_CopyFromLaterStageIsForwardReference(t *testing.T) {
	text := "FROM alpine AS first\nCOPY --from=second /a /a\nFROM alpine AS second"

	_, err := Parse(text)
	var dfErr *DockerfileError
	require.ErrorAs(t, err, &dfErr)
	assert.Equal(t, 2, dfErr.Line)
}

func TestParse_CopyFromSelfIsRejected(t *testing.T) {
	_, err := Parse("FROM alpine AS app\nCOPY --from=app /a /b")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestParse_CopyFromIndexAndImage(t *testing.T) {
	text := "FROM alpine\nFROM busybox\nCOPY --from=0 /a /a\nCOPY --from=nginx:latest /etc/nginx /etc/nginx"

	cfg := mustParse(t, text)
	require.Len(t, cfg.Commands, 2)
	assert.Equal(t, "0", cfg.Commands[0].(Copy).From)
	assert.Equal(t, "nginx:latest", cfg.Commands[1].(Copy).From)

	_, err := Parse("FROM alpine\nCOPY --from=1 /a /a")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestParse_ShellAndExecForms(t *testing.T) {
	text := `FROM alpine
RUN ["apk", "add", "--no-cache", "curl"]
RUN [ -d /data ] || mkdir /data
CMD echo "hello world"
ENTRYPOINT ["/docker-entrypoint.sh"]
SHELL ["/bin/ash", "-eo", "pipefail", "-c"]`

	cfg := mustParse(t, text)
	assert.Equal(t, []Command{
		Run{Exec: []string{"apk", "add", "--no-cache", "curl"}},
		Run{Shell: "[ -d /data ] || mkdir /data"},
		Cmd{Shell: `echo "hello world"`},
		Entrypoint{Exec: []string{"/docker-entrypoint.sh"}},
		Shell{Exec: []string{"/bin/ash", "-eo", "pipefail", "-c"}},
	}, cfg.Commands)
}

func TestParse_MalformedJSONArray(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"trailing comma", `CMD ["a", ]`},
		{"unterminated", `ENTRYPOINT ["a"`},
		{"non-string element", `RUN ["a", 1]`},
		{"shell not json", `SHELL /bin/sh -c`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("FROM alpine\n" + tt.line)
			var dfErr *DockerfileError
			require.ErrorAs(t, err, &dfErr)
			assert.Equal(t, 2, dfErr.Line)
			assert.ErrorIs(t, err, ErrInvalidJSONArray)
		})
	}
}

func TestParse_EnvForms(t *testing.T) {
	text := `FROM alpine
ENV APP_HOME=/srv/app MODE="production build" EMPTY=
ENV LEGACY some value here`

	cfg := mustParse(t, text)
	assert.Equal(t, []Command{
		Env{Pairs: []KeyValue{
			{Key: "APP_HOME", Value: "/srv/app"},
			{Key: "MODE", Value: "production build"},
			{Key: "EMPTY", Value: ""},
		}},
		Env{Pairs: []KeyValue{{Key: "LEGACY", Value: "some value here"}}},
	}, cfg.Commands)
}

func TestParse_EnvMalformedPair(t *testing.T) {
	_, err := Parse("FROM alpine\nENV A=1 B")
	assert.ErrorIs(t, err, ErrInvalidPair)

	_, err = Parse("FROM alpine\nENV =1")
	assert.ErrorIs(t, err, ErrInvalidPair)

	_, err = Parse("FROM alpine\nENV ONLYKEY")
	assert.ErrorIs(t, err, ErrInvalidPair)
}

func TestParse_Substitution(t *testing.T) {
	text := `ARG BASE=alpine
ARG TAG
FROM ${BASE}:${TAG:-3.20}
ENV APP_HOME=/srv/app
WORKDIR $APP_HOME/bin
ENV GREETING="hello world"
LABEL greeting=$GREETING
COPY ./bin ${APP_HOME}/bin
RUN echo $APP_HOME
USER ${MISSING}
WORKDIR \$APP_HOME`

	cfg := mustParse(t, text)
	assert.Equal(t, "alpine:3.20", cfg.BaseImage)
	assert.Equal(t, []Arg{{Name: "BASE", Default: strPtr("alpine")}, {Name: "TAG"}}, cfg.GlobalArgs)

	cmds := cfg.Commands
	require.Len(t, cmds, 8)
	assert.Equal(t, Workdir{Path: "/srv/app/bin"}, cmds[1])
	assert.Equal(t, Label{Pairs: []KeyValue{{Key: "greeting", Value: "hello world"}}}, cmds[3])
	assert.Equal(t, Copy{Sources: []string{"./bin"}, Dest: "/srv/app/bin"}, cmds[4])
	assert.Equal(t, Run{Shell: "echo $APP_HOME"}, cmds[5], "RUN is expanded by the container shell")
	assert.Equal(t, User{User: "${MISSING}"}, cmds[6], "undeclared references stay literal")
	assert.Equal(t, Workdir{Path: "$APP_HOME"}, cmds[7])
}

func TestParse_GlobalArgsNotVisibleInStageUntilRedeclared(t *testing.T) {
	text := `ARG VERSION=1.2.3
FROM alpine
LABEL before=$VERSION
ARG VERSION
LABEL after=$VERSION`

	cfg := mustParse(t, text)
	require.Len(t, cfg.Commands, 3)
	assert.Equal(t, Label{Pairs: []KeyValue{{Key: "before", Value: "$VERSION"}}}, cfg.Commands[0])
	assert.Equal(t, Label{Pairs: []KeyValue{{Key: "after", Value: "1.2.3"}}}, cfg.Commands[2])
}

func TestParse_StageScopeResetsOnFrom(t *testing.T) {
	text := `FROM alpine AS one
ENV DIR=/one
FROM alpine AS two
WORKDIR $DIR`

	cfg := mustParse(t, text)
	assert.Equal(t, Workdir{Path: "$DIR"}, cfg.Stages[1].Commands[0])
}

func TestParse_CopyAndAddFlags(t *testing.T) {
	text := `FROM alpine AS base
FROM alpine
COPY --chown=app:app --from=base --chmod=0755 --link /a /b /dest/
ADD --chown=1000 https://example.com/x.tar.gz /opt/
COPY ["with space.txt", "/dst dir/"]`

	cfg := mustParse(t, text)
	assert.Equal(t, []Command{
		Copy{Sources: []string{"/a", "/b"}, Dest: "/dest/", Owner: "app:app", From: "base", Chmod: "0755", Link: true},
		Add{Sources: []string{"https://example.com/x.tar.gz"}, Dest: "/opt/", Owner: "1000"},
		Copy{Sources: []string{"with space.txt"}, Dest: "/dst dir/"},
	}, cfg.Commands)
}

func TestParse_CopyErrors(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		sentinel error
	}{
		{"single positional", "COPY ./only", ErrMissingArguments},
		{"flag after positional", "COPY ./a --chown=app /b", ErrInvalidFlag},
		{"unknown flag", "COPY --exclude=*.md . /app", ErrInvalidFlag},
		{"add with from", "ADD --from=base /a /b", ErrInvalidFlag},
		{"unbalanced quotes in words", `COPY "a /b`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("FROM alpine AS base\n" + tt.line)
			require.Error(t, err)
			if tt.sentinel != nil {
				var dfErr *DockerfileError
				require.ErrorAs(t, err, &dfErr)
				assert.Equal(t, 2, dfErr.Line)
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestParse_Expose(t *testing.T) {
	cfg := mustParse(t, "FROM alpine\nEXPOSE 80 443/TCP 53/udp 7000-7002")
	assert.Equal(t, []Command{
		Expose{Port: 80},
		Expose{Port: 443, Protocol: "tcp"},
		Expose{Port: 53, Protocol: "udp"},
		Expose{Port: 7000},
		Expose{Port: 7001},
		Expose{Port: 7002},
	}, cfg.Commands)

	for _, bad := range []string{"EXPOSE 0", "EXPOSE 70000", "EXPOSE http", "EXPOSE 80/icmp", "EXPOSE 90-80"} {
		_, err := Parse("FROM alpine\n" + bad)
		assert.ErrorIs(t, err, ErrInvalidPort, bad)
	}
}

func TestParse_HealthCheck(t *testing.T) {
	text := `FROM alpine
HEALTHCHECK --interval=30s --timeout 5s --start-period=10s --start-interval=1s --retries=3 CMD curl -f http://localhost/ || exit 1
HEALTHCHECK CMD ["pg_isready", "-U", "postgres"]
HEALTHCHECK NONE`

	cfg := mustParse(t, text)
	require.Len(t, cfg.Commands, 3)
	assert.Equal(t, HealthCheck{
		Test:          []string{"CMD-SHELL", "curl -f http://localhost/ || exit 1"},
		Interval:      30 * time.Second,
		Timeout:       5 * time.Second,
		StartPeriod:   10 * time.Second,
		StartInterval: time.Second,
		Retries:       3,
	}, cfg.Commands[0])
	assert.Equal(t, HealthCheck{Test: []string{"CMD", "pg_isready", "-U", "postgres"}}, cfg.Commands[1])
	assert.True(t, cfg.Commands[2].(HealthCheck).Disabled())
}

func TestParse_HealthCheckErrors(t *testing.T) {
	tests := []struct {
		line     string
		sentinel error
	}{
		{"HEALTHCHECK --interval=soon CMD true", ErrInvalidFlag},
		{"HEALTHCHECK --retries=-1 CMD true", ErrInvalidFlag},
		{"HEALTHCHECK --color=red CMD true", ErrInvalidFlag},
		{"HEALTHCHECK --interval=5s", ErrMissingArguments},
		{"HEALTHCHECK CMD", ErrMissingArguments},
		{"HEALTHCHECK NONE extra", ErrInvalidFlag},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := Parse("FROM alpine\n" + tt.line)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestParse_MiscInstructions(t *testing.T) {
	text := `from alpine
maintainer Jane Doe <jane@example.com>
user www-data
volume ["/data", "/logs"]
VOLUME /cache /tmp/x
STOPSIGNAL SIGTERM
LABEL "com.example.vendor"="ACME Inc" version=1.0
ONBUILD RUN make $TARGET
ONBUILD COPY . /src`

	cfg := mustParse(t, text)
	assert.Equal(t, "alpine", cfg.BaseImage)
	assert.Equal(t, []Command{
		Maintainer{Name: "Jane Doe <jane@example.com>"},
		User{User: "www-data"},
		Volume{Paths: []string{"/data", "/logs"}},
		Volume{Paths: []string{"/cache", "/tmp/x"}},
		StopSignal{Signal: "SIGTERM"},
		Label{Pairs: []KeyValue{{Key: "com.example.vendor", Value: "ACME Inc"}, {Key: "version", Value: "1.0"}}},
		OnBuild{Command: Run{Shell: "make $TARGET"}},
		OnBuild{Command: Copy{Sources: []string{"."}, Dest: "/src"}},
	}, cfg.Commands)
}

func TestParse_InstructionsBeforeFromOpenImplicitStage(t *testing.T) {
	cfg := mustParse(t, "RUN echo hi\nFROM alpine AS next")

	require.Len(t, cfg.Stages, 2)
	assert.Empty(t, cfg.Stages[0].BaseImage)
	assert.Equal(t, []Command{Run{Shell: "echo hi"}}, cfg.Stages[0].Commands)
	assert.Equal(t, "next", cfg.Stages[1].Name)
	assert.Empty(t, cfg.BaseImage)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		line     int
		sentinel error
	}{
		{"unknown instruction", "FROM alpine\nFOO bar", 2, ErrUnknownInstruction},
		{"missing args", "FROM alpine\nRUN", 2, ErrMissingArguments},
		{"from without image", "FROM --platform=linux/arm64", 1, ErrMissingArguments},
		{"from bad alias syntax", "FROM alpine AS", 1, ErrMissingArguments},
		{"from unknown flag", "FROM --squash alpine", 1, ErrInvalidFlag},
		{"bad arg name", "ARG 1BAD=x", 1, ErrInvalidPair},
		{"onbuild onbuild", "FROM a\nONBUILD ONBUILD RUN x", 2, ErrInvalidTrigger},
		{"onbuild unknown", "FROM a\nONBUILD NOPE x", 2, ErrUnknownInstruction},
		{"stopsignal words", "FROM a\nSTOPSIGNAL SIG TERM", 2, ErrInvalidFlag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(tt.text)
			assert.Nil(t, cfg)
			var dfErr *DockerfileError
			require.ErrorAs(t, err, &dfErr)
			assert.Equal(t, tt.line, dfErr.Line)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestParse_SyntaxErrorIsReturnedAsIs(t *testing.T) {
	cfg, err := Parse("FROM alpine\nRUN echo \\")
	assert.Nil(t, cfg)

	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, 2, syntaxErr.Line)
}
