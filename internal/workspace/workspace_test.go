package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace_Setup(t *testing.T) {
	source := t.TempDir()
	replica := filepath.Join(t.TempDir(), "replica")

	ws := New(source, replica)
	require.NoError(t, ws.Setup())
	defer ws.Unlock()

	// replica and metadata dirs are created
	assert.DirExists(t, replica)
	assert.DirExists(t, ws.TmpDir)
	assert.FileExists(t, filepath.Join(ws.MetadataDir, "mirror.lock"))
}

func TestWorkspace_Setup_MissingSource(t *testing.T) {
	ws := New(filepath.Join(t.TempDir(), "nope"), t.TempDir())
	err := ws.Setup()
	require.ErrorIs(t, err, ErrSourceMissing)
}

func TestWorkspace_Setup_SourceIsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	ws := New(file, t.TempDir())
	require.ErrorIs(t, ws.Setup(), ErrSourceMissing)
}

func TestWorkspace_LockExcludesSecondProcess(t *testing.T) {
	source, replica := t.TempDir(), t.TempDir()

	first := New(source, replica)
	require.NoError(t, first.Setup())
	defer first.Unlock()

	second := New(source, replica)
	assert.ErrorIs(t, second.Setup(), ErrReplicaLocked)

	// releasing the first lock lets the second in
	require.NoError(t, first.Unlock())
	require.NoError(t, second.Setup())
	require.NoError(t, second.Unlock())
}

func TestWorkspace_UnlockWithoutLockIsNoop(t *testing.T) {
	ws := New(t.TempDir(), t.TempDir())
	assert.NoError(t, ws.Unlock())
}
