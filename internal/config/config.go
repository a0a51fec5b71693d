package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openmirror/mirror/internal/utils"
)

const (
	// CompareDigest compares file contents by md5 digest. Exact, but reads
	// every file on every pass.
	CompareDigest = "digest"

	// CompareMetadata compares size and modification time only. Fast, but can
	// miss edits that preserve both.
	CompareMetadata = "metadata"
)

const (
	DefaultMode    = CompareDigest
	DefaultWorkers = 4
)

var (
	ErrSameRoots   = errors.New("source and replica must be different directories")
	ErrNestedRoots = errors.New("source and replica must not be nested in each other")
)

// Config holds one run's settings: the root pair, the schedule, the log
// destination and the optional tuning knobs exposed on the CLI.
type Config struct {
	SourcePath  string
	ReplicaPath string
	Interval    time.Duration
	Iterations  int
	LogPath     string

	Mode      string   // digest or metadata comparison
	Workers   int      // parallel file copies per pass
	Excludes  []string // doublestar globs, layered on .mirrorignore
	HistoryDB string   // optional sqlite action history, empty disables
}

// Validate resolves the root paths and checks every setting that would make
// the run fail at startup. It does not touch the filesystem beyond path
// resolution; existence checks belong to workspace setup.
func (c *Config) Validate() error {
	src, err := utils.ResolvePath(c.SourcePath)
	if err != nil {
		return fmt.Errorf("invalid source path %q: %w", c.SourcePath, err)
	}
	c.SourcePath = src

	replica, err := utils.ResolvePath(c.ReplicaPath)
	if err != nil {
		return fmt.Errorf("invalid replica path %q: %w", c.ReplicaPath, err)
	}
	c.ReplicaPath = replica

	if c.SourcePath == c.ReplicaPath {
		return ErrSameRoots
	}
	if isSubPath(c.SourcePath, c.ReplicaPath) || isSubPath(c.ReplicaPath, c.SourcePath) {
		return ErrNestedRoots
	}

	if c.Interval < 0 {
		return fmt.Errorf("sync interval must be non-negative, got %s", c.Interval)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("sync iterations must be positive, got %d", c.Iterations)
	}
	if c.LogPath == "" {
		return errors.New("log path cannot be empty")
	}

	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.Mode != CompareDigest && c.Mode != CompareMetadata {
		return fmt.Errorf("unknown compare mode %q (want %q or %q)", c.Mode, CompareDigest, CompareMetadata)
	}

	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}

	for _, pattern := range c.Excludes {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	return nil
}

func isSubPath(parent, child string) bool {
	return len(child) > len(parent) && child[:len(parent)] == parent && child[len(parent)] == filepath.Separator
}
