package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmirror/mirror/internal/config"
)

// writeTree materializes a tree description under root. Keys ending in "/"
// are directories, everything else is a file with the given content.
func writeTree(t *testing.T, root string, tree map[string]string) {
	t.Helper()
	for relPath, content := range tree {
		absPath := filepath.Join(root, filepath.FromSlash(relPath))
		if strings.HasSuffix(relPath, "/") {
			require.NoError(t, os.MkdirAll(absPath, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(absPath), 0o755))
		require.NoError(t, os.WriteFile(absPath, []byte(content), 0o644))
	}
}

// readTree reads back all files under root as relPath -> content, skipping
// the replica metadata dir.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		relPath, relErr := filepath.Rel(root, path)
		require.NoError(t, relErr)
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}
		if d.IsDir() {
			if relPath == ".mirror" {
				return filepath.SkipDir
			}
			tree[relPath+"/"] = ""
			return nil
		}
		content, readErr := os.ReadFile(path)
		require.NoError(t, readErr)
		tree[relPath] = string(content)
		return nil
	})
	require.NoError(t, err)
	return tree
}

func newTestReconciler(t *testing.T, source, replica string, opts ...func(*Options)) *Reconciler {
	t.Helper()
	options := Options{
		SourceRoot:  source,
		ReplicaRoot: replica,
		Workers:     1,
	}
	for _, opt := range opts {
		opt(&options)
	}
	r, err := NewReconciler(options)
	require.NoError(t, err)
	return r
}

func kinds(actions []*SyncAction) map[ActionKind][]string {
	byKind := make(map[ActionKind][]string)
	for _, a := range actions {
		byKind[a.Kind] = append(byKind[a.Kind], a.RelPath)
	}
	return byKind
}

func TestReconcile_Scenario(t *testing.T) {
	// source = {a.txt: "hello", dir/b.txt: "world"}
	// replica = {a.txt: "old", c.txt: "stale"}
	source, replica := t.TempDir(), t.TempDir()
	writeTree(t, source, map[string]string{
		"a.txt":     "hello",
		"dir/b.txt": "world",
	})
	writeTree(t, replica, map[string]string{
		"a.txt": "old",
		"c.txt": "stale",
	})

	r := newTestReconciler(t, source, replica)
	actions, stats, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	byKind := kinds(actions)
	assert.ElementsMatch(t, []string{"a.txt", "dir/b.txt"}, byKind[ActionCopyFile])
	assert.ElementsMatch(t, []string{"dir"}, byKind[ActionCreateDir])
	assert.ElementsMatch(t, []string{"c.txt"}, byKind[ActionDeleteFile])
	assert.Empty(t, byKind[ActionError])

	assert.Equal(t, 2, stats.FilesCopied)
	assert.Equal(t, 1, stats.FilesDeleted)
	assert.Equal(t, 1, stats.DirsCreated)
	assert.Equal(t, int64(len("hello")+len("world")), stats.BytesCopied)

	assert.Equal(t, map[string]string{
		"a.txt":     "hello",
		"dir/":      "",
		"dir/b.txt": "world",
	}, readTree(t, replica))
}

func TestReconcile_Convergence(t *testing.T) {
	cases := []struct {
		name    string
		source  map[string]string
		replica map[string]string
	}{
		{
			name:    "empty replica",
			source:  map[string]string{"a/b/c.txt": "deep", "a/empty/": "", "top.txt": "x"},
			replica: map[string]string{},
		},
		{
			name:    "empty source empties replica",
			source:  map[string]string{},
			replica: map[string]string{"x/y/z.txt": "bye", "w.txt": "bye"},
		},
		{
			name:    "arbitrary pre-existing replica",
			source:  map[string]string{"keep.txt": "same", "new/n.txt": "n"},
			replica: map[string]string{"keep.txt": "same", "junk/deep/old.txt": "old", "stray.txt": "s"},
		},
		{
			name:    "changed content same name",
			source:  map[string]string{"f.txt": "version two"},
			replica: map[string]string{"f.txt": "version one!"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			source, replica := t.TempDir(), t.TempDir()
			writeTree(t, source, tc.source)
			writeTree(t, replica, tc.replica)

			r := newTestReconciler(t, source, replica)
			_, _, err := r.Reconcile(context.Background())
			require.NoError(t, err)

			assert.Equal(t, readTree(t, source), readTree(t, replica))
		})
	}
}

func TestReconcile_Idempotence(t *testing.T) {
	for _, mode := range []string{config.CompareDigest, config.CompareMetadata} {
		t.Run(mode, func(t *testing.T) {
			source, replica := t.TempDir(), t.TempDir()
			writeTree(t, source, map[string]string{
				"a.txt":       "hello",
				"dir/b.txt":   "world",
				"dir/empty/":  "",
				"other/c.bin": "\x00\x01\x02",
			})

			r := newTestReconciler(t, source, replica, func(o *Options) { o.Mode = mode })

			_, first, err := r.Reconcile(context.Background())
			require.NoError(t, err)
			assert.True(t, first.Changed())

			actions, second, err := r.Reconcile(context.Background())
			require.NoError(t, err)
			assert.Empty(t, actions, "second pass should be a no-op")
			assert.False(t, second.Changed())
			assert.Zero(t, second.FilesCopied)
			assert.Zero(t, second.BytesCopied)
		})
	}
}

func TestReconcile_IdenticalTrees(t *testing.T) {
	source, replica := t.TempDir(), t.TempDir()
	tree := map[string]string{"a.txt": "same", "d/b.txt": "same2"}
	writeTree(t, source, tree)

	// copy through a first pass, then reconcile with a fresh reconciler so
	// no digest cache is shared
	r := newTestReconciler(t, source, replica)
	_, _, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	fresh := newTestReconciler(t, source, replica)
	actions, stats, err := fresh.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Equal(t, &RunStats{Elapsed: stats.Elapsed}, stats)
}

func TestReconcile_DeletionCompleteness(t *testing.T) {
	source, replica := t.TempDir(), t.TempDir()
	writeTree(t, source, map[string]string{"keep.txt": "k"})
	writeTree(t, replica, map[string]string{
		"keep.txt":          "k",
		"gone.txt":          "g",
		"dir/sub/file.txt":  "f",
		"dir/sub/file2.txt": "f2",
		"dir/other/":        "",
	})

	r := newTestReconciler(t, source, replica)
	actions, stats, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"keep.txt": "k"}, readTree(t, replica))
	assert.Equal(t, 3, stats.FilesDeleted)
	assert.Equal(t, 3, stats.DirsDeleted) // dir, dir/sub, dir/other
	assert.Zero(t, stats.Errors)

	// children deleted before their parent
	byPath := make(map[string]int)
	for i, a := range actions {
		byPath[a.RelPath] = i
	}
	assert.Less(t, byPath["dir/sub/file.txt"], byPath["dir/sub"])
	assert.Less(t, byPath["dir/sub"], byPath["dir"])
}

func TestReconcile_DepthOrdering(t *testing.T) {
	source, replica := t.TempDir(), t.TempDir()
	writeTree(t, source, map[string]string{"a/b/c/deep.txt": "d"})

	r := newTestReconciler(t, source, replica)
	actions, _, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	index := make(map[string]int)
	for i, a := range actions {
		index[a.RelPath] = i
	}

	// a directory is never created after a file that lives inside it
	assert.Less(t, index["a"], index["a/b"])
	assert.Less(t, index["a/b"], index["a/b/c"])
	assert.Less(t, index["a/b/c"], index["a/b/c/deep.txt"])
}

func TestReconcile_KindConflicts(t *testing.T) {
	t.Run("replica file where source has dir", func(t *testing.T) {
		source, replica := t.TempDir(), t.TempDir()
		writeTree(t, source, map[string]string{"p/inner.txt": "i"})
		writeTree(t, replica, map[string]string{"p": "i am a file"})

		r := newTestReconciler(t, source, replica)
		actions, _, err := r.Reconcile(context.Background())
		require.NoError(t, err)

		byKind := kinds(actions)
		assert.Contains(t, byKind[ActionDeleteFile], "p")
		assert.Contains(t, byKind[ActionCreateDir], "p")
		assert.Equal(t, readTree(t, source), readTree(t, replica))
	})

	t.Run("replica dir where source has file", func(t *testing.T) {
		source, replica := t.TempDir(), t.TempDir()
		writeTree(t, source, map[string]string{"p": "now a file"})
		writeTree(t, replica, map[string]string{"p/nested/deep.txt": "bye", "p/top.txt": "bye"})

		r := newTestReconciler(t, source, replica)
		actions, _, err := r.Reconcile(context.Background())
		require.NoError(t, err)

		byKind := kinds(actions)
		assert.Contains(t, byKind[ActionDeleteDir], "p")
		assert.Contains(t, byKind[ActionCopyFile], "p")
		assert.Empty(t, byKind[ActionError])
		assert.Equal(t, readTree(t, source), readTree(t, replica))
	})
}

func TestReconcile_PartialFailureIsolation(t *testing.T) {
	source, replica := t.TempDir(), t.TempDir()
	writeTree(t, source, map[string]string{
		"ok1.txt":     "one",
		"fail.txt":    "two",
		"ok2.txt":     "three",
		"dir/ok3.txt": "four",
	})

	r := newTestReconciler(t, source, replica)
	injected := errors.New("simulated permission denied")
	realCopy := r.copyFn
	r.copyFn = func(src, dst, tmpDir string) (int64, error) {
		if filepath.Base(src) == "fail.txt" {
			return 0, injected
		}
		return realCopy(src, dst, tmpDir)
	}

	actions, stats, err := r.Reconcile(context.Background())
	require.NoError(t, err, "item-level failure must not abort the pass")

	byKind := kinds(actions)
	assert.ElementsMatch(t, []string{"ok1.txt", "ok2.txt", "dir/ok3.txt"}, byKind[ActionCopyFile])
	require.Len(t, byKind[ActionError], 1)
	assert.Equal(t, "fail.txt", byKind[ActionError][0])
	assert.Equal(t, 1, stats.Errors)

	// every other action completed
	got := readTree(t, replica)
	assert.Equal(t, "one", got["ok1.txt"])
	assert.Equal(t, "three", got["ok2.txt"])
	assert.Equal(t, "four", got["dir/ok3.txt"])
	assert.NotContains(t, got, "fail.txt")
}

func TestReconcile_PassFatalScanError(t *testing.T) {
	source, replica := t.TempDir(), t.TempDir()
	require.NoError(t, os.RemoveAll(source))

	r := newTestReconciler(t, source, replica)
	actions, stats, err := r.Reconcile(context.Background())

	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionError, actions[0].Kind)
	assert.Equal(t, 1, stats.Errors)
}

func TestReconcile_MetadataMode(t *testing.T) {
	source, replica := t.TempDir(), t.TempDir()
	writeTree(t, source, map[string]string{"f.txt": "content"})

	r := newTestReconciler(t, source, replica, func(o *Options) { o.Mode = config.CompareMetadata })

	_, first, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.FilesCopied)

	// mtime is propagated on copy, so the second pass sees no change
	actions, _, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestReconcile_IgnoredPathsUntouched(t *testing.T) {
	source, replica := t.TempDir(), t.TempDir()
	writeTree(t, source, map[string]string{
		"synced.txt": "s",
		"skip/x.txt": "never copied",
	})
	writeTree(t, replica, map[string]string{
		"skip/y.txt": "never deleted",
	})

	r := newTestReconciler(t, source, replica, func(o *Options) {
		o.Excludes = []string{"skip", "skip/**"}
	})
	_, _, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	got := readTree(t, replica)
	assert.Equal(t, "s", got["synced.txt"])
	assert.Equal(t, "never deleted", got["skip/y.txt"])
	assert.NotContains(t, got, "skip/x.txt")
}

func TestReconcile_ParallelCopies(t *testing.T) {
	source, replica := t.TempDir(), t.TempDir()
	tree := make(map[string]string)
	for i := 0; i < 40; i++ {
		tree[fmt.Sprintf("d/%c/f%d.txt", 'a'+i%26, i)] = fmt.Sprintf("content %d", i)
	}
	writeTree(t, source, tree)

	r := newTestReconciler(t, source, replica, func(o *Options) { o.Workers = 8 })
	_, stats, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 40, stats.FilesCopied)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, readTree(t, source), readTree(t, replica))
}
