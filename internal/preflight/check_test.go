package preflight

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{
			name:     "required pass is not critical",
			result:   CheckResult{Status: StatusPass, Required: true},
			expected: false,
		},
		{
			name:     "required fail is critical",
			result:   CheckResult{Status: StatusFail, Required: true},
			expected: true,
		},
		{
			name:     "optional fail is not critical",
			result:   CheckResult{Status: StatusFail, Required: false},
			expected: false,
		},
		{
			name:     "required warn is not critical",
			result:   CheckResult{Status: StatusWarn, Required: true},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_New(t *testing.T) {
	// Given: default options
	checker := New()

	// Then: checker is created with defaults
	assert.NotNil(t, checker)
	assert.False(t, checker.verbose)
	assert.Nil(t, checker.embedder)
}

func TestChecker_NewWithOptions(t *testing.T) {
	// Given: custom options
	buf := &bytes.Buffer{}
	checker := New(
		WithVerbose(true),
		WithOutput(buf),
		WithEmbedderProbe(func(context.Context) (string, error) { return "", nil }),
	)

	// Then: options are applied
	assert.True(t, checker.verbose)
	assert.Equal(t, buf, checker.output)
	assert.NotNil(t, checker.embedder)
}

func TestChecker_HasCriticalFailures(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected bool
	}{
		{
			name:     "no results",
			results:  []CheckResult{},
			expected: false,
		},
		{
			name: "all pass",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusPass, Required: true},
			},
			expected: false,
		},
		{
			name: "warning only",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusWarn, Required: false},
			},
			expected: false,
		},
		{
			name: "optional failure",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusFail, Required: false},
			},
			expected: false,
		},
		{
			name: "required failure",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusFail, Required: true},
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.HasCriticalFailures(tt.results))
		})
	}
}

func TestChecker_CheckWritePermissions_Writable(t *testing.T) {
	// Given: a writable directory
	tmpDir := t.TempDir()

	// When: checking write permissions
	checker := New()
	result := checker.CheckWritePermissions(tmpDir)

	// Then: passes
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "write_permissions", result.Name)
	assert.True(t, result.Required)
}

func TestChecker_CheckWritePermissions_MissingDataDir(t *testing.T) {
	// Given: a data directory that does not exist yet
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "project", ".casearch")

	// When: checking write permissions
	result := New().CheckWritePermissions(dataDir)

	// Then: the nearest existing parent is checked and nothing is left behind
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, tmpDir, result.Details)
	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	// Given: a read-only directory (skip on CI/root)
	if os.Getuid() == 0 {
		t.Skip("Skipping read-only test when running as root")
	}

	tmpDir := t.TempDir()
	readOnlyDir := filepath.Join(tmpDir, "readonly")
	require.NoError(t, os.Mkdir(readOnlyDir, 0555))
	defer func() { _ = os.Chmod(readOnlyDir, 0755) }() // Restore for cleanup

	// When: checking write permissions
	result := New().CheckWritePermissions(readOnlyDir)

	// Then: fails
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "cannot write to")
	assert.True(t, result.IsCritical())
}

func TestChecker_CheckDiskSpace(t *testing.T) {
	result := New().CheckDiskSpace(filepath.Join(t.TempDir(), "missing"))

	assert.Equal(t, "disk_space", result.Name)
	assert.True(t, result.Required)
	assert.Contains(t, result.Message, "free")
}

func TestChecker_CheckDiskSpace_CorpusEstimate(t *testing.T) {
	// Given: a corpus far larger than any test machine's free space
	c := New(WithCorpusBytes(1 << 50))

	// When: checking disk space
	result := c.CheckDiskSpace(t.TempDir())

	// Then: the estimate drives the minimum and the check fails
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "minimum: 4096.0 TB")
	assert.True(t, result.IsCritical())
}

func TestChecker_CheckFileDescriptors(t *testing.T) {
	result := New().CheckFileDescriptors()

	assert.Equal(t, "file_descriptors", result.Name)
	assert.Contains(t, result.Message, "minimum: 1024")

	result = New(WithLexicalBackend("sqlite")).CheckFileDescriptors()
	assert.Contains(t, result.Message, "minimum: 256")
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		512:       "512 bytes",
		2048:      "2.0 KB",
		100 << 20: "100.0 MB",
		3 << 30:   "3.0 GB",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatBytes(in))
	}
}

func TestChecker_RunRequired(t *testing.T) {
	// Given: a valid directory
	tmpDir := t.TempDir()

	// When: running the required checks
	results := New().RunRequired(tmpDir)

	// Then: disk, permission and file limit checks run, all required
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
		assert.True(t, r.Required, r.Name)
	}
	assert.Equal(t, []string{"disk_space", "write_permissions", "file_descriptors"}, names)
}

func TestChecker_RunAll_WithEmbedderProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("without probe", func(t *testing.T) {
		results := New().RunAll(ctx, t.TempDir())

		assert.Len(t, results, 3)
	})

	t.Run("probe succeeds", func(t *testing.T) {
		checker := New(WithEmbedderProbe(func(context.Context) (string, error) {
			return "static (256 dims)", nil
		}))

		results := checker.RunAll(ctx, t.TempDir())

		require.Len(t, results, 4)
		last := results[3]
		assert.Equal(t, "embedder", last.Name)
		assert.Equal(t, StatusPass, last.Status)
		assert.Equal(t, "static (256 dims)", last.Details)
	})

	t.Run("probe fails", func(t *testing.T) {
		checker := New(WithEmbedderProbe(func(context.Context) (string, error) {
			return "", errors.New("connection refused")
		}))

		results := checker.RunAll(ctx, t.TempDir())

		require.Len(t, results, 4)
		last := results[3]
		assert.Equal(t, StatusWarn, last.Status)
		assert.False(t, last.IsCritical())
		assert.Equal(t, "connection refused", last.Details)
		assert.NotEqual(t, "failed", checker.SummaryStatus(results))
	})
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: some check results
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50 GB free"},
		{Name: "embedder", Status: StatusWarn, Message: "unavailable", Details: "connection refused"},
		{Name: "write_permissions", Status: StatusFail, Message: "cannot write", Required: true},
	}

	buf := &bytes.Buffer{}
	checker := New(WithOutput(buf), WithVerbose(true))

	// When: printing results
	checker.PrintResults(results)

	// Then: output contains formatted results
	output := buf.String()
	assert.Contains(t, output, "[PASS]")
	assert.Contains(t, output, "[WARN]")
	assert.Contains(t, output, "[FAIL]")
	assert.Contains(t, output, "disk_space")
	assert.Contains(t, output, "      connection refused")
	assert.Contains(t, output, "Status: FAILED")
	assert.Contains(t, output, "1 error(s):")
	assert.Contains(t, output, "1 warning(s):")
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected string
	}{
		{
			name: "all pass",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusPass},
			},
			expected: "ready",
		},
		{
			name: "with warnings",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusWarn},
			},
			expected: "ready_with_warnings",
		},
		{
			name: "with critical failure",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusFail, Required: true},
			},
			expected: "failed",
		},
		{
			name: "with optional failure",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusFail, Required: false},
			},
			expected: "ready_with_warnings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.SummaryStatus(tt.results))
		})
	}
}
