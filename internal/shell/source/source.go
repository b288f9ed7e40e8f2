// Package source reads deployment inputs from a file system: compose files,
// env files, Dockerfiles and build contexts. Every read goes through an
// afero.Fs so callers and tests can substitute an in-memory tree.
package source

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/artpar/stevedore/internal/core/compose"
	"github.com/artpar/stevedore/internal/core/dockerfile"
)

var (
	// ErrComposeFileNotFound is returned when no compose file exists at or
	// under the given path.
	ErrComposeFileNotFound = errors.New("compose file not found")

	// ErrOutsideContext is returned when a Dockerfile path escapes its build
	// context.
	ErrOutsideContext = errors.New("path is outside the build context")
)

// composeCandidates are tried in order when a directory is given.
var composeCandidates = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

// Loader reads deployment inputs from a file system.
type Loader struct {
	fs afero.Fs
}

// NewLoader returns a Loader over fs, or over the OS file system when fs is
// nil.
func NewLoader(fsys afero.Fs) *Loader {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Loader{fs: fsys}
}

// Fs returns the underlying file system.
func (l *Loader) Fs() afero.Fs {
	return l.fs
}

// =============================================================================
// Compose Files
// =============================================================================

// ComposeOptions controls how variables are gathered for interpolation.
type ComposeOptions struct {
	// EnvFiles are dotenv files read in order; later files win.
	EnvFiles []string

	// Environment holds explicit variables. They win over env files.
	Environment map[string]string

	// UseProcessEnv enables the fallback to the process environment for
	// variables found nowhere else.
	UseProcessEnv bool
}

// ComposeFile is a parsed compose file and where it was read from. Dir is
// the base for relative build contexts and bind mounts.
type ComposeFile struct {
	Path   string
	Dir    string
	Config *compose.DeploymentConfig
}

// ResolveComposePath returns p when it is a file, or the first compose file
// found inside p when it is a directory.
func (l *Loader) ResolveComposePath(p string) (string, error) {
	info, err := l.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrComposeFileNotFound, p)
		}
		return "", err
	}
	if !info.IsDir() {
		return p, nil
	}
	for _, candidate := range composeCandidates {
		full := filepath.Join(p, candidate)
		if ok, _ := afero.Exists(l.fs, full); ok {
			return full, nil
		}
	}
	return "", fmt.Errorf("%w: no compose file in directory %s", ErrComposeFileNotFound, p)
}

// LoadCompose resolves, reads and parses a compose file.
func (l *Loader) LoadCompose(p string, opts ComposeOptions) (*ComposeFile, error) {
	resolved, err := l.ResolveComposePath(p)
	if err != nil {
		return nil, err
	}

	env, err := l.LoadEnvFiles(opts.EnvFiles...)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(l.fs, resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	parseOpts := compose.Options{Environment: compose.MergeEnvironment(env, opts.Environment)}
	if opts.UseProcessEnv {
		parseOpts.LookupEnv = os.LookupEnv
	}

	cfg, err := compose.Parse(string(data), parseOpts)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(resolved)
	if abs, err := filepath.Abs(dir); err == nil && isOsFs(l.fs) {
		dir = abs
	}
	return &ComposeFile{Path: resolved, Dir: dir, Config: cfg}, nil
}

// LoadEnvFiles reads dotenv files in order and merges them; later files win.
func (l *Loader) LoadEnvFiles(paths ...string) (map[string]string, error) {
	layers := make([]map[string]string, 0, len(paths))
	for _, p := range paths {
		data, err := afero.ReadFile(l.fs, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
		vars, err := compose.ParseEnvFile(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		layers = append(layers, vars)
	}
	return compose.MergeEnvironment(layers...), nil
}

// =============================================================================
// Dockerfiles and Build Contexts
// =============================================================================

// ReadDockerfile reads and parses the Dockerfile at dockerfilePath, relative
// to contextDir. The path may not leave the context.
func (l *Loader) ReadDockerfile(contextDir, dockerfilePath string) (*dockerfile.BuildConfig, error) {
	full, err := insideContext(contextDir, dockerfilePath)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(l.fs, full)
	if err != nil {
		return nil, fmt.Errorf("failed to read Dockerfile: %w", err)
	}
	cfg, err := dockerfile.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", full, err)
	}
	return cfg, nil
}

// BuildContext archives contextDir as a tar stream. Entry names are relative
// to the context and use forward slashes.
func (l *Loader) BuildContext(contextDir string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := afero.Walk(l.fs, contextDir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(contextDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			// Sockets, devices and symlinks are not sent to the builder.
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		data, err := afero.ReadFile(l.fs, p)
		if err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive build context %s: %w", contextDir, err)
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// insideContext joins rel onto contextDir, rejecting absolute paths and
// paths that climb out of the context.
func insideContext(contextDir, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideContext, rel)
	}
	clean := path.Clean(filepath.ToSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideContext, rel)
	}
	return filepath.Join(contextDir, filepath.FromSlash(clean)), nil
}

func isOsFs(fsys afero.Fs) bool {
	_, ok := fsys.(*afero.OsFs)
	return ok
}
