package compose

import (
	"fmt"
	"maps"
	"regexp"

	"github.com/joho/godotenv"
)

// envKeyRegex matches valid environment variable names.
var envKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseEnvFile parses dotenv content (KEY=value lines, comments, optional
// quoting) into a variable mapping.
func ParseEnvFile(content string) (map[string]string, error) {
	vars, err := godotenv.Unmarshal(content)
	if err != nil {
		return nil, NewComposeError("", fmt.Sprintf("invalid env file: %v", err), ErrInvalidEnvFile)
	}
	for key := range vars {
		if !envKeyRegex.MatchString(key) {
			return nil, NewComposeError("", fmt.Sprintf("invalid variable name %q", key), ErrInvalidEnvFile)
		}
	}
	return vars, nil
}

// MergeEnvironment layers variable mappings; later layers win.
func MergeEnvironment(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		maps.Copy(out, layer)
	}
	return out
}
