package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the CLI with the given args against a fresh root command
// and returns its combined output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// setupDataDir points the engine at a throwaway data directory with the
// deterministic static embedder, so tests need no external model service.
func setupDataDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("ODRAS_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("ODRAS_EMBED_MODEL", "static")

	// Point --config at a file that does not exist so host configuration
	// never leaks into tests.
	configPath = filepath.Join(dir, "config.yaml")
	t.Cleanup(func() { configPath = "" })
	return dir
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	setupDataDir(t)

	out, err := runCLI(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "odras")
	assert.Contains(t, out, "search")
	assert.Contains(t, out, "worker")
}

func TestVersionCmd_PrintsBuildInfo(t *testing.T) {
	setupDataDir(t)

	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "odras")

	jsonOut, err := runCLI(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, jsonOut, `"version"`)
	assert.Contains(t, jsonOut, `"go_version"`)
}

func TestIndexAndSearch_EndToEnd(t *testing.T) {
	dir := setupDataDir(t)
	target := "The reaction wheel assembly shall provide three-axis attitude control."
	path := writeTestFile(t, dir, "adcs.md", target)

	out, err := runCLI(t, "index", "--project", "p1", "--domain", "requirements", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed adcs.md")

	// A separate invocation reopens the persisted stores.
	out, err = runCLI(t, "search", target)
	require.NoError(t, err)
	assert.Contains(t, out, "adcs.md")
	assert.Contains(t, out, "reaction wheel")
}

func TestSearch_JSONFormat(t *testing.T) {
	dir := setupDataDir(t)
	path := writeTestFile(t, dir, "doc.md", "Telemetry downlink format definition.")

	_, err := runCLI(t, "index", path)
	require.NoError(t, err)

	out, err := runCLI(t, "search", "Telemetry downlink format definition.", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"Query"`)
	assert.Contains(t, out, "doc.md")
}

func TestEntities_ListAndDelete(t *testing.T) {
	dir := setupDataDir(t)
	path := writeTestFile(t, dir, "notes.md", "Ground station pass scheduling notes.")

	_, err := runCLI(t, "index", "--tag", "ops", path)
	require.NoError(t, err)

	out, err := runCLI(t, "entities")
	require.NoError(t, err)
	assert.Contains(t, out, "file/notes.md")
	assert.Contains(t, out, "ops")

	out, err = runCLI(t, "delete", "file", "notes.md")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed file/notes.md")

	out, err = runCLI(t, "entities")
	require.NoError(t, err)
	assert.Contains(t, out, "No indexed entities")
}

func TestIndex_ReindexIsUpsert(t *testing.T) {
	dir := setupDataDir(t)
	path := writeTestFile(t, dir, "req.md", "Original requirement text.")

	_, err := runCLI(t, "index", path)
	require.NoError(t, err)
	_, err = runCLI(t, "index", path)
	require.NoError(t, err)

	out, err := runCLI(t, "entities")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "file/req.md"))
}

func TestCheck_ConsistentAfterIndexing(t *testing.T) {
	dir := setupDataDir(t)
	path := writeTestFile(t, dir, "doc.md", "Propulsion subsystem overview.")

	_, err := runCLI(t, "index", path)
	require.NoError(t, err)

	out, err := runCLI(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "consistent")
}

func TestRebuild_RegeneratesVectors(t *testing.T) {
	dir := setupDataDir(t)
	path := writeTestFile(t, dir, "doc.md", "Thermal analysis boundary conditions.")

	_, err := runCLI(t, "index", path)
	require.NoError(t, err)

	out, err := runCLI(t, "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "Rebuilt")

	out, err = runCLI(t, "search", "Thermal analysis boundary conditions.")
	require.NoError(t, err)
	assert.Contains(t, out, "doc.md")
}

func TestWorker_RequiresDropDirectory(t *testing.T) {
	setupDataDir(t)

	_, err := runCLI(t, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drop directory")
}

func TestIndex_MissingFileFails(t *testing.T) {
	dir := setupDataDir(t)

	_, err := runCLI(t, "index", filepath.Join(dir, "absent.md"))
	assert.Error(t, err)
}
