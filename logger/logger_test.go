package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err, "read log")
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestLookupLogLevel(t *testing.T) {
	level, ok := LookupLogLevel(" warning ")
	assert.True(t, ok, "warning is known")
	assert.Equal(t, LogLevelWarn, level, "warning maps to WARN")

	_, ok = LookupLogLevel("loud")
	assert.False(t, ok, "unknown level")
	assert.Equal(t, LogLevelInfo, ParseLogLevel("loud"), "parse falls back to INFO")
	assert.Equal(t, "TRACE", ParseLogLevel("trace").String(), "case-insensitive")
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	ll, err := Open(path, LogLevelWarn)
	require.NoError(t, err, "open")
	defer ll.Close()

	Debug("hidden %d", 1)
	Info("hidden %d", 2)
	Warn("shown %d", 3)
	Error("shown %d", 4)

	lines := readLines(t, path)
	require.Len(t, lines, 2, "only WARN and above")
	assert.Contains(t, lines[0], "[WARN] shown 3", "warn line")
	assert.Contains(t, lines[1], "[ERROR] shown 4", "error line")
}

func TestRotationKeepsNewestLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	require.NoError(t, os.WriteFile(path, []byte("old 1\nold 2\n"), 0o644), "seed")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err, "open")
	ll := NewLimitedLogger(f, LogLevelTrace, 3)
	defer ll.Close()

	assert.Equal(t, 2, ll.lineCount, "existing lines counted")

	for _, msg := range []string{"new 1\n", "new 2\n", "new 3\n"} {
		_, err := ll.Write([]byte(msg))
		require.NoError(t, err, "write")
	}

	assert.Equal(t, []string{"new 1", "new 2", "new 3"}, readLines(t, path), "oldest lines dropped")
}

func TestTraceDisabledIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	ll, err := Open(path, LogLevelInfo)
	require.NoError(t, err, "open")
	defer ll.Close()

	Trace("quiet")()

	data, err := os.ReadFile(path)
	require.NoError(t, err, "read")
	assert.Empty(t, data, "nothing written below level")
}
