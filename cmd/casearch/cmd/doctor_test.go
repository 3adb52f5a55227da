package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JCHanratty/CASearch/internal/preflight"
)

func TestDoctorCmd_Text(t *testing.T) {
	setupCLIEnv(t)

	out, err := executeCLI(t, "doctor")

	require.NoError(t, err)
	assert.Contains(t, out, "CASearch System Check")
	assert.Contains(t, out, "[PASS] write_permissions")
	assert.Contains(t, out, "[PASS] embedder: ready")
}

func TestDoctorCmd_JSON(t *testing.T) {
	// Given: the embedder disabled
	setupCLIEnv(t)
	t.Setenv("CASEARCH_EMBED_PROVIDER", "none")

	// When: running doctor with JSON output
	out, err := executeCLI(t, "doctor", "--json")

	// Then: the embedder check warns without failing the run
	require.NoError(t, err)
	var report doctorReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, "ready_with_warnings", report.Status)
	require.Len(t, report.Checks, 4)
	assert.Equal(t, "embedder", report.Checks[3].Name)
	assert.Equal(t, "WARN", report.Checks[3].Status)
	assert.Empty(t, report.Errors)
}

func TestIndexCmd_RunsPreflightOnce(t *testing.T) {
	// Given: a fresh project
	dir := setupCLIEnv(t)

	// When: indexing
	indexAgreement(t, dir, "--lexical-only")

	// Then: the preflight marker is left in the data directory
	assert.False(t, preflight.NeedsCheck(filepath.Join(dir, ".casearch")))
}
