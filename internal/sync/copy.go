package sync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openmirror/mirror/internal/utils"
)

// copyFile copies src to dst atomically: the content is written to a temp
// file in tmpDir (on the replica's filesystem) and renamed over dst, so a
// failed or interrupted copy never leaves a partial file at dst. The source
// mtime is propagated so metadata comparison stays idempotent across passes.
// Returns the number of bytes copied.
func copyFile(src, dst, tmpDir string) (int64, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	if err := utils.EnsureDir(tmpDir); err != nil {
		return 0, fmt.Errorf("ensure temp dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(tmpDir, filepath.Base(dst)+".mirror.tmp.*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, srcFile)
	if err != nil {
		return 0, fmt.Errorf("copy content: %w", err)
	}

	// durability before the atomic rename
	if err := tmpFile.Sync(); err != nil {
		return 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chtimes(tmpPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return 0, fmt.Errorf("set mtime: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, fmt.Errorf("rename temp file to %q: %w", dst, err)
	}

	success = true
	return written, nil
}
