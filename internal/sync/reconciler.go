package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openmirror/mirror/internal/config"
)

// Reconciler makes the replica root match the source root. Each call to
// Reconcile is one stateless pass: scan both trees, delete what the source
// no longer has (children before parents), then create and copy what the
// source has (parents before children). The only state carried between
// passes is whatever already exists on the replica's filesystem.
type Reconciler struct {
	sourceRoot  string
	replicaRoot string
	mode        string
	workers     int
	tmpDir      string
	scanner     *Scanner
	sink        ActionSink

	// copy seam for fault-injection in tests
	copyFn func(src, dst, tmpDir string) (int64, error)

	mu      sync.Mutex
	actions []*SyncAction
	stats   *RunStats
}

// Options configures a Reconciler. SourceRoot and ReplicaRoot are required
// absolute paths; everything else has a sensible default.
type Options struct {
	SourceRoot  string
	ReplicaRoot string
	Mode        string   // config.CompareDigest (default) or config.CompareMetadata
	Workers     int      // parallel copies per pass, default config.DefaultWorkers
	Excludes    []string // doublestar globs layered on .mirrorignore
	TmpDir      string   // staging dir for atomic copies, default <replica>/.mirror/tmp
	Sink        ActionSink
}

func NewReconciler(opts Options) (*Reconciler, error) {
	if opts.Mode == "" {
		opts.Mode = config.CompareDigest
	}
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultWorkers
	}
	if opts.TmpDir == "" {
		opts.TmpDir = filepath.Join(opts.ReplicaRoot, ".mirror", "tmp")
	}

	ignore := NewIgnoreList(opts.SourceRoot, opts.Excludes)
	ignore.Load()

	scanner, err := NewScanner(opts.Mode, ignore)
	if err != nil {
		return nil, err
	}

	return &Reconciler{
		sourceRoot:  opts.SourceRoot,
		replicaRoot: opts.ReplicaRoot,
		mode:        opts.Mode,
		workers:     opts.Workers,
		tmpDir:      opts.TmpDir,
		scanner:     scanner,
		sink:        opts.Sink,
		copyFn:      copyFile,
	}, nil
}

// Reconcile runs one pass and returns the actions taken and their tally.
// A non-nil error means the pass aborted before applying anything (a root
// failed to scan); item-level failures are reported as Error actions and do
// not abort the pass.
func (r *Reconciler) Reconcile(ctx context.Context) ([]*SyncAction, *RunStats, error) {
	start := time.Now()

	r.mu.Lock()
	r.actions = nil
	r.stats = &RunStats{}
	r.mu.Unlock()

	finish := func() ([]*SyncAction, *RunStats) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.stats.Elapsed = time.Since(start)
		if r.sink != nil {
			r.sink.RecordSummary(r.stats)
		}
		return r.actions, r.stats
	}

	srcSnap, err := r.scanner.Scan(ctx, r.sourceRoot)
	if err != nil {
		r.emit(&SyncAction{Kind: ActionError, RelPath: ".", Err: err})
		actions, stats := finish()
		return actions, stats, err
	}

	repSnap, err := r.scanner.Scan(ctx, r.replicaRoot)
	if err != nil {
		r.emit(&SyncAction{Kind: ActionError, RelPath: ".", Err: err})
		actions, stats := finish()
		return actions, stats, err
	}

	for _, ee := range srcSnap.Errors {
		r.emit(&SyncAction{Kind: ActionError, RelPath: ee.RelPath, Err: ee.Err})
	}
	for _, ee := range repSnap.Errors {
		r.emit(&SyncAction{Kind: ActionError, RelPath: ee.RelPath, Err: ee.Err})
	}

	r.deletePhase(ctx, srcSnap, repSnap)
	r.createPhase(ctx, srcSnap, repSnap)

	actions, stats := finish()
	return actions, stats, nil
}

// deletePhase removes every replica path absent from the source, deepest
// first so directories are already empty when their turn comes. Each delete
// is an individual os.Remove so per-item failures stay observable; no
// recursive RemoveAll.
func (r *Reconciler) deletePhase(ctx context.Context, srcSnap, repSnap *TreeSnapshot) {
	replicaOnly := repSnap.PathSet().Difference(srcSnap.PathSet()).ToSlice()
	sortByDepth(replicaOnly, true)

	for _, relPath := range replicaOnly {
		if ctx.Err() != nil {
			return
		}

		entry, _ := repSnap.Get(relPath)
		absPath := filepath.Join(r.replicaRoot, filepath.FromSlash(relPath))

		kind := ActionDeleteFile
		if entry.IsDir() {
			kind = ActionDeleteDir
		}

		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			r.emit(&SyncAction{Kind: ActionError, RelPath: relPath, Err: fmt.Errorf("delete: %w", err)})
			continue
		}
		r.emit(&SyncAction{Kind: kind, RelPath: relPath})
	}
}

// createPhase walks source paths parents-first, creating directories and
// resolving kind conflicts inline, and collects the file copies. Copies run
// afterwards in a bounded worker group: by then every destination directory
// exists, so they are order-independent.
func (r *Reconciler) createPhase(ctx context.Context, srcSnap, repSnap *TreeSnapshot) {
	srcPaths := srcSnap.PathSet().ToSlice()
	sortByDepth(srcPaths, false)

	type copyJob struct {
		relPath string
		src     string
		dst     string
	}
	var copies []copyJob

	for _, relPath := range srcPaths {
		if ctx.Err() != nil {
			return
		}

		srcEntry, _ := srcSnap.Get(relPath)
		repEntry, exists := repSnap.Get(relPath)
		srcAbs := filepath.Join(r.sourceRoot, filepath.FromSlash(relPath))
		dstAbs := filepath.Join(r.replicaRoot, filepath.FromSlash(relPath))

		if srcEntry.IsDir() {
			if exists && repEntry.IsDir() {
				continue
			}
			if exists {
				// file in the way of a directory
				if err := os.Remove(dstAbs); err != nil {
					r.emit(&SyncAction{Kind: ActionError, RelPath: relPath, Err: fmt.Errorf("replace file with dir: %w", err)})
					continue
				}
				r.emit(&SyncAction{Kind: ActionDeleteFile, RelPath: relPath})
			}
			if err := os.Mkdir(dstAbs, 0o755); err != nil {
				r.emit(&SyncAction{Kind: ActionError, RelPath: relPath, Err: fmt.Errorf("create dir: %w", err)})
				continue
			}
			r.emit(&SyncAction{Kind: ActionCreateDir, RelPath: relPath})
			continue
		}

		if exists && repEntry.IsDir() {
			// directory in the way of a file; its contents were already
			// removed in the delete phase
			if err := os.Remove(dstAbs); err != nil {
				r.emit(&SyncAction{Kind: ActionError, RelPath: relPath, Err: fmt.Errorf("replace dir with file: %w", err)})
				continue
			}
			r.emit(&SyncAction{Kind: ActionDeleteDir, RelPath: relPath})
		} else if exists && r.unchanged(srcEntry, repEntry) {
			continue
		}

		copies = append(copies, copyJob{relPath: relPath, src: srcAbs, dst: dstAbs})
	}

	if len(copies) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for _, job := range copies {
		job := job
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			written, err := r.copyFn(job.src, job.dst, r.tmpDir)
			if err != nil {
				r.emit(&SyncAction{Kind: ActionError, RelPath: job.relPath, Err: fmt.Errorf("copy: %w", err)})
				return nil
			}
			r.emit(&SyncAction{Kind: ActionCopyFile, RelPath: job.relPath, Bytes: written})
			return nil
		})
	}
	g.Wait()
}

// unchanged reports whether the replica's file already matches the source.
// Digest mode compares content hashes; metadata mode compares size and
// second-truncated mtime (coarse filesystems round mtimes).
func (r *Reconciler) unchanged(src, rep *PathEntry) bool {
	if src.Size != rep.Size {
		return false
	}
	if r.mode == config.CompareDigest {
		return src.Digest != "" && src.Digest == rep.Digest
	}
	return src.ModTime.Truncate(time.Second).Equal(rep.ModTime.Truncate(time.Second))
}

func (r *Reconciler) emit(action *SyncAction) {
	if action.Time.IsZero() {
		action.Time = time.Now()
	}

	r.mu.Lock()
	r.actions = append(r.actions, action)
	r.stats.observe(action)
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.Record(action)
	}
}
