package cmd

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLog = `{"time":"2026-03-01T10:30:00.000Z","level":"INFO","msg":"index_started","sources":1}
{"time":"2026-03-01T10:30:01.000Z","level":"WARN","msg":"semantic_indexing_disabled","provider":"ollama"}
{"time":"2026-03-01T10:30:02.000Z","level":"INFO","msg":"index_complete","documents":1}
`

func TestLogsCmd_Tail(t *testing.T) {
	// Given: a log file
	dir := setupCLIEnv(t)
	path := filepath.Join(dir, "casearch.log")
	writeFile(t, path, testLog)

	// When: showing the last two lines
	out, err := executeCLI(t, "logs", "--file", path, "-n", "2", "--no-color")

	// Then: only those entries are printed
	require.NoError(t, err)
	assert.NotContains(t, out, "index_started")
	assert.Contains(t, out, "semantic_indexing_disabled provider=ollama")
	assert.Contains(t, out, "index_complete documents=1")
}

func TestLogsCmd_Filters(t *testing.T) {
	dir := setupCLIEnv(t)
	path := filepath.Join(dir, "casearch.log")
	writeFile(t, path, testLog)

	out, err := executeCLI(t, "logs", "--file", path, "--level", "warn", "--no-color")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "semantic_indexing_disabled"))
	assert.NotContains(t, out, "index_complete")

	out, err = executeCLI(t, "logs", "--file", path, "--filter", "complete$|started", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "index_started")
	assert.NotContains(t, out, "semantic_indexing_disabled")
}

func TestLogsCmd_Errors(t *testing.T) {
	dir := setupCLIEnv(t)
	path := filepath.Join(dir, "casearch.log")
	writeFile(t, path, testLog)

	_, err := executeCLI(t, "logs", "--file", filepath.Join(dir, "missing.log"))
	assert.Error(t, err)

	_, err = executeCLI(t, "logs", "--file", path, "--filter", "(")
	assert.Error(t, err)
}
