package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExitCode(t *testing.T) {
	result, err := Run(t.TempDir(), "sh", []string{"-c", "echo broken pipe >&2; exit 3"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "broken pipe\n", result.Stderr)
	assert.NotEmpty(t, result.Path)
}

func TestRunSuccess(t *testing.T) {
	result, err := Run("", "sh", []string{"-c", "exit 0"})
	require.NoError(t, err)
	assert.Zero(t, result.ExitCode)
}

func TestRunMissingCommand(t *testing.T) {
	result, err := Run("", "definitely-not-a-command-xyz", nil)
	assert.Error(t, err)
	assert.Equal(t, -1, result.ExitCode)
}

func TestTailBuffer(t *testing.T) {
	tail := &tailBuffer{limit: 4}
	_, _ = tail.Write([]byte("ab"))
	_, _ = tail.Write([]byte("cdef"))

	assert.Equal(t, "cdef", tail.String())

	_, _ = tail.Write([]byte(strings.Repeat("x", 10)))
	assert.Equal(t, "xxxx", tail.String())
}
