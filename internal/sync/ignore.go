package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/openmirror/mirror/internal/utils"
)

// IgnoreFileName is the per-source ignore file, gitignore syntax.
const IgnoreFileName = ".mirrorignore"

var defaultIgnoreLines = []string{
	IgnoreFileName,
	// replica-side metadata (lock file, staging dir)
	".mirror",
	".mirror/",
	"*.mirror.tmp.*",
	// OS droppings
	".DS_Store",
	"Thumbs.db",
}

// IgnoreList decides which relative paths are excluded from snapshots.
// Excluded paths are invisible to the reconciler: never copied from the
// source and never deleted from the replica. Rules come from built-in
// defaults, an optional .mirrorignore at the source root, and CLI globs.
type IgnoreList struct {
	baseDir string
	globs   []string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string, globs []string) *IgnoreList {
	return &IgnoreList{baseDir: baseDir, globs: globs}
}

// Load compiles the default rules plus any .mirrorignore found at baseDir.
func (l *IgnoreList) Load() {
	ignorePath := filepath.Join(l.baseDir, IgnoreFileName)
	ignoreLines := defaultIgnoreLines

	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					ignoreLines = append(ignoreLines, line)
					rules++
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
			} else {
				slog.Info("loaded ignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// Match reports whether the relative path is excluded from syncing.
func (l *IgnoreList) Match(relPath string) bool {
	if l.ignore != nil && l.ignore.MatchesPath(relPath) {
		return true
	}
	for _, pattern := range l.globs {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
