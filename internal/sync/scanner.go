package sync

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openmirror/mirror/internal/config"
	"github.com/openmirror/mirror/internal/utils"
)

// digestCacheSize bounds the cross-pass digest memo. Entries are evicted LRU;
// an evicted entry just means one extra hash on the next pass.
const digestCacheSize = 65536

// ScanError is a pass-fatal failure to scan a root: the root is missing, not
// a directory, or the walk itself broke.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %q: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Scanner walks directory roots into TreeSnapshots. One Scanner serves both
// roots across all passes of a run; the only state it carries between passes
// is the digest memo, which never changes what a snapshot contains.
type Scanner struct {
	mode    string
	ignore  *IgnoreList
	digests *lru.Cache[string, cachedDigest]
}

func NewScanner(mode string, ignore *IgnoreList) (*Scanner, error) {
	digests, err := lru.New[string, cachedDigest](digestCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create digest cache: %w", err)
	}
	return &Scanner{
		mode:    mode,
		ignore:  ignore,
		digests: digests,
	}, nil
}

// Scan produces a fresh snapshot of every file and directory under root.
// Unreadable entries are recorded in the snapshot's Errors and skipped; only
// a missing/invalid root or a broken walk returns a *ScanError.
func (sc *Scanner) Scan(ctx context.Context, root string) (*TreeSnapshot, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &ScanError{Root: root, Err: fmt.Errorf("not a directory")}
	}

	snapshot := NewTreeSnapshot(root)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath := relTo(root, path)
		if walkErr != nil {
			if relPath == "." {
				return walkErr
			}
			// unreadable subtree: record and keep walking the rest
			snapshot.Errors = append(snapshot.Errors, EntryError{RelPath: relPath, Err: walkErr})
			return nil
		}

		if relPath == "." {
			// the root itself is not an entry
			return nil
		}

		if sc.ignore.Match(relPath) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		entry, entryErr := sc.entryFor(path, relPath, d)
		if entryErr != nil {
			snapshot.Errors = append(snapshot.Errors, EntryError{RelPath: relPath, Err: entryErr})
			return nil
		}
		snapshot.Add(entry)
		return nil
	})
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	return snapshot, nil
}

// entryFor builds the snapshot entry for one walked path. Symlinks are
// resolved to their target kind; a symlink to a directory is recorded as a
// directory but not descended into, and a dangling link is an entry error.
func (sc *Scanner) entryFor(path, relPath string, d fs.DirEntry) (*PathEntry, error) {
	if d.IsDir() {
		return &PathEntry{RelPath: relPath, Kind: KindDir}, nil
	}

	var info fs.FileInfo
	var err error
	if d.Type()&fs.ModeSymlink != 0 {
		info, err = os.Stat(path) // follow the link
	} else {
		info, err = d.Info()
	}
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	if info.IsDir() {
		return &PathEntry{RelPath: relPath, Kind: KindDir}, nil
	}

	entry := &PathEntry{
		RelPath: relPath,
		Kind:    KindFile,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	if sc.mode == config.CompareDigest {
		digest, err := sc.digestFor(path, info)
		if err != nil {
			return nil, err
		}
		entry.Digest = digest
	}

	return entry, nil
}

func relTo(root, path string) string {
	relPath, err := filepath.Rel(root, path)
	if err != nil || relPath == "." {
		return "."
	}
	return utils.NormPath(relPath)
}
