package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvFile(t *testing.T) {
	content := `
# database settings
DB_HOST=db
DB_PASSWORD="s3cret value"
export DB_PORT=5432
GREETING='hello # not a comment'
`
	vars, err := ParseEnvFile(content)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"DB_HOST":     "db",
		"DB_PASSWORD": "s3cret value",
		"DB_PORT":     "5432",
		"GREETING":    "hello # not a comment",
	}, vars)
}

func TestParseEnvFile_Empty(t *testing.T) {
	vars, err := ParseEnvFile("")
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestParseEnvFile_InvalidKey(t *testing.T) {
	_, err := ParseEnvFile("1BAD=value\n")
	assert.ErrorIs(t, err, ErrInvalidEnvFile)
}

func TestMergeEnvironment(t *testing.T) {
	fileVars := map[string]string{"TAG": "from-file", "ONLY_FILE": "1"}
	explicit := map[string]string{"TAG": "explicit"}

	merged := MergeEnvironment(fileVars, nil, explicit)

	assert.Equal(t, map[string]string{"TAG": "explicit", "ONLY_FILE": "1"}, merged)
	assert.Equal(t, "from-file", fileVars["TAG"], "inputs are not modified")
}

func TestParse_WithEnvFileVariables(t *testing.T) {
	vars, err := ParseEnvFile("DB_PASSWORD=from-file\nWP_VERSION=6.4\n")
	require.NoError(t, err)

	cfg, err := Parse(wordpressSpec, Options{Environment: vars})
	require.NoError(t, err)
	assert.Equal(t, "wordpress:6.4", mustService(t, cfg, "wordpress").Image)
}
