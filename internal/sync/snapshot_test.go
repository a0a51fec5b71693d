package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathDepth(t *testing.T) {
	cases := []struct {
		path  string
		depth int
	}{
		{"", 0},
		{"a.txt", 1},
		{"a/b.txt", 2},
		{"a/b/c/d.txt", 4},
	}
	for _, c := range cases {
		assert.Equal(t, c.depth, pathDepth(c.path), c.path)
	}
}

func TestSortByDepth(t *testing.T) {
	paths := []string{"a/b/c", "z", "a/b", "a", "m/n"}

	ascending := append([]string(nil), paths...)
	sortByDepth(ascending, false)
	assert.Equal(t, []string{"a", "z", "a/b", "m/n", "a/b/c"}, ascending)

	descending := append([]string(nil), paths...)
	sortByDepth(descending, true)
	assert.Equal(t, []string{"a/b/c", "a/b", "m/n", "a", "z"}, descending)
}

func TestTreeSnapshot_PathSet(t *testing.T) {
	snap := NewTreeSnapshot("/tmp/x")
	snap.Add(&PathEntry{RelPath: "a", Kind: KindDir})
	snap.Add(&PathEntry{RelPath: "a/b.txt", Kind: KindFile, Size: 3})

	set := snap.PathSet()
	assert.Equal(t, 2, set.Cardinality())
	assert.True(t, set.Contains("a"))
	assert.True(t, set.Contains("a/b.txt"))

	entry, ok := snap.Get("a/b.txt")
	assert.True(t, ok)
	assert.Equal(t, 2, entry.Depth())
}
