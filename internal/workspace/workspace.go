package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/openmirror/mirror/internal/utils"
)

const (
	metadataDir = ".mirror"
	tmpDir      = "tmp"
	lockFile    = "mirror.lock"
)

var (
	// ErrSourceMissing is a fatal startup error: the source root must already
	// exist and be a directory.
	ErrSourceMissing = errors.New("source path does not exist or is not a directory")

	// ErrReplicaLocked means another mirror process is reconciling the same
	// replica.
	ErrReplicaLocked = errors.New("replica locked by another process")
)

// Workspace is the resolved root pair of a run plus the replica-side
// metadata directory holding the lock file and the copy staging area. The
// metadata directory lives inside the replica so staged files share its
// filesystem and renames stay atomic; it is on the default ignore list and
// invisible to reconciliation.
type Workspace struct {
	SourceRoot  string
	ReplicaRoot string
	MetadataDir string
	TmpDir      string

	flock *flock.Flock
}

// New builds a Workspace from already-resolved absolute root paths.
func New(sourceRoot, replicaRoot string) *Workspace {
	metaDir := filepath.Join(replicaRoot, metadataDir)
	return &Workspace{
		SourceRoot:  sourceRoot,
		ReplicaRoot: replicaRoot,
		MetadataDir: metaDir,
		TmpDir:      filepath.Join(metaDir, tmpDir),
		flock:       flock.New(filepath.Join(metaDir, lockFile)),
	}
}

// Setup validates the source root, creates the replica root if it is
// missing, prepares the metadata directory and takes the replica lock.
func (w *Workspace) Setup() error {
	if !utils.DirExists(w.SourceRoot) {
		return fmt.Errorf("%w: %s", ErrSourceMissing, w.SourceRoot)
	}

	if !utils.DirExists(w.ReplicaRoot) {
		slog.Info("replica does not exist, creating", "path", w.ReplicaRoot)
		if err := os.MkdirAll(w.ReplicaRoot, 0o755); err != nil {
			return fmt.Errorf("create replica %q: %w", w.ReplicaRoot, err)
		}
	}

	if err := utils.EnsureDir(w.TmpDir); err != nil {
		return fmt.Errorf("create metadata dir %q: %w", w.TmpDir, err)
	}

	return w.Lock()
}

func (w *Workspace) Lock() error {
	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock replica: %w", err)
	}
	if !locked {
		return ErrReplicaLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// don't delete a lock file this process never held
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock replica: %w", err)
	}
	return os.Remove(w.flock.Path())
}
