package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JCHanratty/CASearch/internal/config"
)

// ============================================================================
// config
// ============================================================================

func TestConfigCmd_InitWritesDefaults(t *testing.T) {
	// Given: an empty project directory
	dir := setupCLIEnv(t)

	// When: running config init
	out, err := executeCLI(t, "config", "init")

	// Then: casearch.yaml is written and loads to the defaults
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote casearch.yaml")
	cfg, err := config.LoadFile(filepath.Join(dir, "casearch.yaml"))
	require.NoError(t, err)
	defaults := config.NewConfig()
	assert.Equal(t, defaults.Search, cfg.Search)
	assert.Equal(t, defaults.Embeddings, cfg.Embeddings)
	assert.Equal(t, defaults.Paths.DataDir, cfg.Paths.DataDir)
}

func TestConfigCmd_InitTOML(t *testing.T) {
	dir := setupCLIEnv(t)

	_, err := executeCLI(t, "config", "init", "--format", "toml")

	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "casearch.toml"))
}

func TestConfigCmd_InitKeepsExistingFile(t *testing.T) {
	// Given: an existing project config
	dir := setupCLIEnv(t)
	path := filepath.Join(dir, "casearch.yaml")
	writeFile(t, path, "search:\n  default_limit: 7\n")

	// When: running init without --force
	out, err := executeCLI(t, "config", "init")

	// Then: the file is untouched
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "search:\n  default_limit: 7\n", string(data))
}

func TestConfigCmd_InitForceBacksUpAndRestoreReverts(t *testing.T) {
	// Given: an existing project config
	dir := setupCLIEnv(t)
	path := filepath.Join(dir, "casearch.yaml")
	writeFile(t, path, "search:\n  default_limit: 7\n")

	// When: replacing it with --force
	out, err := executeCLI(t, "config", "init", "--force")
	require.NoError(t, err)

	// Then: a backup is kept
	assert.Contains(t, out, "Backup: ")
	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 1)

	// When: restoring
	_, err = executeCLI(t, "config", "restore")
	require.NoError(t, err)

	// Then: the original content is back
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "search:\n  default_limit: 7\n", string(data))
}

func TestConfigCmd_InitUser(t *testing.T) {
	dir := setupCLIEnv(t)

	_, err := executeCLI(t, "config", "init", "--user")

	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "xdg", "casearch", "config.yaml"))
	assert.Equal(t, filepath.Join(dir, "xdg", "casearch", "config.yaml"), config.GetUserConfigPath())
}

func TestConfigCmd_ShowMergesProjectConfig(t *testing.T) {
	// Given: a project config overriding one setting
	dir := setupCLIEnv(t)
	writeFile(t, filepath.Join(dir, "casearch.yaml"), "search:\n  default_limit: 7\n")

	// When: showing the effective config as JSON
	out, err := executeCLI(t, "config", "show", "--format", "json")

	// Then: the override and the defaults are both present
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 7, cfg.Search.DefaultLimit)
	assert.Equal(t, ".casearch", cfg.Paths.DataDir)
}

func TestConfigCmd_ShowFormats(t *testing.T) {
	setupCLIEnv(t)

	out, err := executeCLI(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "data_dir: .casearch")

	out, err = executeCLI(t, "config", "show", "--format", "toml")
	require.NoError(t, err)
	assert.Contains(t, out, "[paths]")

	_, err = executeCLI(t, "config", "show", "--format", "ini")
	require.Error(t, err)
}

func TestConfigCmd_Path(t *testing.T) {
	dir := setupCLIEnv(t)
	writeFile(t, filepath.Join(dir, "casearch.toml"), "")

	out, err := executeCLI(t, "config", "path")

	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "xdg", "casearch", "config.yaml"))
	assert.Contains(t, out, filepath.Join(dir, "casearch.toml"))
}
