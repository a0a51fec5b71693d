package sync

import (
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

// cachedDigest memoizes a file's digest keyed by the metadata observed when
// it was computed. The digest is only reused while size and mtime still
// match, so the cache can never make a stale comparison "win" silently.
type cachedDigest struct {
	size    int64
	modTime time.Time
	digest  string
}

// fileDigest computes the md5 hash of a file's content as a hex string.
func fileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file %q: %w", path, err)
	}
	defer file.Close()

	h := md5.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash file %q: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// digestFor returns the content digest for absPath, reusing a cached value
// when the file's size and mtime are unchanged since it was last hashed.
func (sc *Scanner) digestFor(absPath string, info fs.FileInfo) (string, error) {
	if cached, ok := sc.digests.Get(absPath); ok &&
		cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.digest, nil
	}

	digest, err := fileDigest(absPath)
	if err != nil {
		return "", err
	}

	sc.digests.Add(absPath, cachedDigest{
		size:    info.Size(),
		modTime: info.ModTime(),
		digest:  digest,
	})
	return digest, nil
}
