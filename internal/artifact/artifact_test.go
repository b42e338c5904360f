package artifact

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := New(filepath.Join(root, "registry"), filepath.Join(root, "registry", "staging"))
	require.NoError(t, err)
	return s
}

func TestNewRejectsSameDir(t *testing.T) {
	dir := t.TempDir()
	_, err := New(dir, dir)
	assert.Error(t, err)
}

func TestReadMissingArtifact(t *testing.T) {
	s := newTestStore(t)

	text, err := s.Read("ghost")
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.False(t, s.Exists("ghost"))
}

func TestStageAndPromote(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteStaged("src", "package main\n"))

	staged, err := s.ReadStaged("src")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", staged)

	// Staging is not production.
	assert.False(t, s.Exists("src"))

	require.NoError(t, s.Promote("src"))
	assert.True(t, s.Exists("src"))

	text, err := s.Read("src")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", text)

	// Staged copy is consumed by the promote.
	_, err = s.ReadStaged("src")
	assert.Error(t, err)
}

func TestPromoteWithoutStagedFails(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Promote("nothing"))
}

func TestPromoteBacksUpPrevious(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteStaged("src", "// v1\n"))
	require.NoError(t, s.Promote("src"))
	assert.False(t, s.BackupExists("src"), "first promote has nothing to back up")

	require.NoError(t, s.WriteStaged("src", "// v2\n"))
	require.NoError(t, s.Promote("src"))
	assert.True(t, s.BackupExists("src"))

	text, err := s.Read("src")
	require.NoError(t, err)
	assert.Equal(t, "// v2\n", text)
}

func TestRestoreBackup(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteStaged("src", "// v1\n"))
	require.NoError(t, s.Promote("src"))
	require.NoError(t, s.WriteStaged("src", "// v2 broken\n"))
	require.NoError(t, s.Promote("src"))

	require.NoError(t, s.RestoreBackup("src"))

	text, err := s.Read("src")
	require.NoError(t, err)
	assert.Equal(t, "// v1\n", text)
	assert.False(t, s.BackupExists("src"), "restore consumes the backup")
}

func TestRestoreBackupWithoutBackupFails(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.RestoreBackup("src"))
}

func TestRemoveStagedIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteStaged("src", "x"))
	require.NoError(t, s.RemoveStaged("src"))
	require.NoError(t, s.RemoveStaged("src"))
}

func TestNamesSkipsBackupsAndStaging(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteStaged("alpha", "// a\n"))
	require.NoError(t, s.Promote("alpha"))
	require.NoError(t, s.WriteStaged("alpha", "// a2\n"))
	require.NoError(t, s.Promote("alpha"))

	require.NoError(t, s.WriteStaged("beta", "// b\n"))
	require.NoError(t, s.Promote("beta"))

	// One still sitting in staging must not be listed.
	require.NoError(t, s.WriteStaged("gamma", "// g\n"))

	names, err := s.Names()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, names)
}
