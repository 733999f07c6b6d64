package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, DefaultFilename, "orchestrator:\n  worker_count: 2\n")

	manifest, err := Lock(dir, []string{path}, true)
	require.NoError(t, err)
	assert.Len(t, manifest.Hashes, 1)
	assert.Len(t, manifest.Hashes[path], 64)

	_, err = os.Stat(filepath.Join(dir, ChecksumFilename))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadVerifiesLockedConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, DefaultFilename, "orchestrator:\n  worker_count: 2\n")

	_, err := Lock(dir, []string{path}, false)
	require.NoError(t, err)

	_, err = Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("orchestrator:\n  worker_count: 9\n"), 0o600))
	_, err = Load(path)
	require.ErrorContains(t, err, "hash mismatch")
}

func TestLoadChecksumsRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, ChecksumFilename, "version: 7\nhashes: {}\n")

	_, err := LoadChecksums(dir)
	require.ErrorContains(t, err, "unsupported checksums version")
}

func TestVerifyFilesMissingEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, DefaultFilename, "")

	err := VerifyFiles(&ChecksumManifest{Version: 1, Hashes: map[string]string{}}, []string{path})
	require.ErrorContains(t, err, "no hash")
}

func TestSourceFilesIgnoresStaleManifest(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "extra.yaml", "agent:\n  timeout: 5s\n")
	path := writeConfig(t, dir, DefaultFilename, "include:\n  - extra.yaml\norchestrator:\n  worker_count: 2\n")

	_, err := Lock(dir, []string{path}, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("include:\n  - extra.yaml\norchestrator:\n  worker_count: 3\n"), 0o600))

	gotDir, files, err := SourceFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, gotDir)
	assert.Equal(t, []string{path, filepath.Join(dir, "extra.yaml")}, files)

	_, err = Lock(gotDir, files, false)
	require.NoError(t, err)
	_, err = Load(path)
	require.NoError(t, err)
}
