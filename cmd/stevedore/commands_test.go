package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stevedore/internal/core/compose"
	"github.com/artpar/stevedore/internal/core/deployment"
	"github.com/artpar/stevedore/internal/shell/docker"
	"github.com/artpar/stevedore/internal/shell/source"
)

// =============================================================================
// Test Helpers
// =============================================================================

const shopCompose = `
services:
  db:
    image: postgres:16
    volumes:
      - data:/var/lib/postgresql/data
    healthcheck:
      test: ["CMD", "pg_isready"]
  api:
    image: shop/api:${API_TAG:-1.0}
    depends_on: [db]
  web:
    image: nginx:1.27
    depends_on: [api]
    ports:
      - "8080:80"
volumes:
  data: {}
`

func writeProject(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	for p, content := range files {
		full := filepath.Join(dir, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--color", "never"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// =============================================================================
// Command Tests
// =============================================================================

func TestVersionCommand(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "stevedore dev (built unknown)\n", out)
}

func TestDockerfileCommand(t *testing.T) {
	dir := writeProject(t, "app", map[string]string{
		"Dockerfile": "FROM rust:1.70\nRUN cargo build\nCOPY ./target /app\n",
	})

	code, out, errOut := runCLI(t, "dockerfile", filepath.Join(dir, "Dockerfile"))
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "FROM rust:1.70")
	assert.Contains(t, out, "RUN cargo build")
	assert.Contains(t, out, "COPY ./target /app")
}

func TestDockerfileCommand_ParseError(t *testing.T) {
	dir := writeProject(t, "app", map[string]string{
		"Dockerfile": "FROM alpine\nCOPY --from=builder /out /app\n",
	})

	code, _, errOut := runCLI(t, "dockerfile", filepath.Join(dir, "Dockerfile"))
	assert.Equal(t, ExitInputError, code)
	assert.Contains(t, errOut, "line 2")
}

func TestPlanCommand(t *testing.T) {
	dir := writeProject(t, "shop", map[string]string{"compose.yaml": shopCompose})

	code, out, errOut := runCLI(t, "plan", dir, "--env", "API_TAG=2.1")
	require.Equal(t, ExitSuccess, code, errOut)

	assert.Contains(t, out, "Project shop (3 services in 3 waves)")
	assert.Contains(t, out, "  + shop_default (bridge)")
	assert.Contains(t, out, "  + shop_data (local)")
	assert.Contains(t, out, "Wave 1\n  db postgres:16 [health-gated]\n")
	assert.Contains(t, out, "Wave 2\n  api shop/api:2.1\n")
	assert.Contains(t, out, "Wave 3\n  web nginx:1.27 8080->80/tcp\n")
}

func TestPlanCommand_ProjectFlag(t *testing.T) {
	dir := writeProject(t, "shop", map[string]string{"compose.yaml": shopCompose})

	code, out, _ := runCLI(t, "plan", dir, "-p", "staging")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "staging_default")
}

func TestPlanCommand_InvalidCompose(t *testing.T) {
	dir := writeProject(t, "loop", map[string]string{"compose.yaml": `
services:
  a:
    image: busybox
    depends_on: [b]
  b:
    image: busybox
    depends_on: [a]
`})

	code, out, errOut := runCLI(t, "plan", dir)
	assert.Equal(t, ExitInputError, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "cycle")
}

func TestPlanCommand_MissingComposeFile(t *testing.T) {
	code, _, errOut := runCLI(t, "plan", t.TempDir())
	assert.Equal(t, ExitInputError, code)
	assert.Contains(t, errOut, "compose file not found")
}

func TestRootCommand_BadConfig(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "stevedore.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("log:\n  level: loud\n"), 0o644))

	code, _, errOut := runCLI(t, "--config", cfgFile, "plan", t.TempDir())
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "log.level")
}

func TestDownCommand_InvalidProject(t *testing.T) {
	code, _, errOut := runCLI(t, "down", "Not A Project")
	assert.Equal(t, ExitInputError, code)
	assert.Contains(t, errOut, "invalid project name")
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"command error", &CommandError{Op: "exec", Err: errors.New("x"), ExitCode: 7}, 7},
		{"deployment", &docker.DeploymentError{Project: "shop", Cause: errors.New("boom")}, ExitDeployFailed},
		{"docker down", fmt.Errorf("ping: %w", docker.ErrConnectionFailed), ExitDockerError},
		{"validation", &compose.ValidationError{}, ExitInputError},
		{"compose file", fmt.Errorf("load: %w", source.ErrComposeFileNotFound), ExitInputError},
		{"other", errors.New("unknown flag"), ExitConfigError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestCommandArgs(t *testing.T) {
	argv, err := commandArgs([]string{`psql -c "select 1"`})
	require.NoError(t, err)
	assert.Equal(t, []string{"psql", "-c", "select 1"}, argv)

	argv, err = commandArgs([]string{"nginx", "-t"})
	require.NoError(t, err)
	assert.Equal(t, []string{"nginx", "-t"}, argv)

	_, err = commandArgs([]string{`echo "unterminated`})
	assert.Error(t, err)

	_, err = commandArgs([]string{"   "})
	assert.Error(t, err)
}

func TestRenderFailure(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	renderFailure(&buf, &docker.DeploymentError{
		Project: "shop",
		Cause:   &docker.HealthCheckTimeoutError{Service: "db", LastStatus: "starting", Deadline: 0},
		RolledBack: []deployment.LedgerEntry{
			{Kind: deployment.EntryContainer, Name: "shop_db"},
			{Kind: deployment.EntryNetwork, Name: "shop_default"},
		},
		Rollback: &docker.RollbackError{Errors: []error{errors.New("volume shop_data is in use")}},
	})

	out := buf.String()
	assert.Contains(t, out, "Deployment failed shop: service db not healthy")
	assert.Contains(t, out, "  - container shop_db\n  - network shop_default\n")
	assert.Contains(t, out, "  ! volume shop_data is in use")
}

func TestRenderResult(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	renderResult(&buf, &docker.Result{
		Project:    "shop",
		RunID:      "run-1",
		Containers: map[string]string{"web": "0123456789abcdef", "db": "fedcba9876543210"},
	})
	assert.Equal(t, "Deployed shop (run run-1)\n  db fedcba987654\n  web 0123456789ab\n", buf.String())
}
