package sync

import (
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// EntryKind is the filesystem kind of a snapshot entry.
type EntryKind string

const (
	KindFile EntryKind = "file"
	KindDir  EntryKind = "dir"
)

// PathEntry is an immutable snapshot of one filesystem object, keyed by its
// slash-separated path relative to the scanned root. Size, ModTime and Digest
// are only meaningful for files; Digest is empty in metadata compare mode.
type PathEntry struct {
	RelPath string
	Kind    EntryKind
	Size    int64
	ModTime time.Time
	Digest  string
}

func (e *PathEntry) IsDir() bool {
	return e.Kind == KindDir
}

// Depth returns the number of path segments in the entry's relative path.
func (e *PathEntry) Depth() int {
	return pathDepth(e.RelPath)
}

func pathDepth(relPath string) int {
	if relPath == "" {
		return 0
	}
	return strings.Count(relPath, "/") + 1
}

// EntryError records a per-entry failure encountered mid-walk. The rest of
// the snapshot is still usable.
type EntryError struct {
	RelPath string
	Err     error
}

// TreeSnapshot describes every descendant of a root at one instant. It is
// built fresh for each pass and never reused across passes.
type TreeSnapshot struct {
	Root    string
	Errors  []EntryError
	entries map[string]*PathEntry
}

func NewTreeSnapshot(root string) *TreeSnapshot {
	return &TreeSnapshot{
		Root:    root,
		entries: make(map[string]*PathEntry),
	}
}

func (s *TreeSnapshot) Add(e *PathEntry) {
	s.entries[e.RelPath] = e
}

func (s *TreeSnapshot) Get(relPath string) (*PathEntry, bool) {
	e, ok := s.entries[relPath]
	return e, ok
}

func (s *TreeSnapshot) Len() int {
	return len(s.entries)
}

// PathSet returns the set of relative paths in the snapshot.
func (s *TreeSnapshot) PathSet() mapset.Set[string] {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(s.entries))
	for path := range s.entries {
		set.Add(path)
	}
	return set
}

// sortByDepth orders paths by segment count, parents before children when
// ascending, children before parents when descending. Ties break
// lexicographically so the order is deterministic.
func sortByDepth(paths []string, descending bool) {
	sort.Slice(paths, func(i, j int) bool {
		di, dj := pathDepth(paths[i]), pathDepth(paths[j])
		if di != dj {
			if descending {
				return di > dj
			}
			return di < dj
		}
		return paths[i] < paths[j]
	})
}
