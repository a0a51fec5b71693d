package sync

import (
	"time"
)

// ActionKind tags one reconciliation operation.
type ActionKind string

const (
	ActionCreateDir  ActionKind = "CreateDir"
	ActionCopyFile   ActionKind = "CopyFile"
	ActionDeleteFile ActionKind = "DeleteFile"
	ActionDeleteDir  ActionKind = "DeleteDir"
	ActionError      ActionKind = "Error"
)

// SyncAction records one operation taken against the replica, or one failure.
// Bytes is set for CopyFile, Err for Error.
type SyncAction struct {
	Kind    ActionKind
	RelPath string
	Bytes   int64
	Err     error
	Time    time.Time
}

// RunStats aggregates the action sequence of a single pass.
type RunStats struct {
	FilesCopied  int
	FilesDeleted int
	DirsCreated  int
	DirsDeleted  int
	Errors       int
	BytesCopied  int64
	Elapsed      time.Duration
}

func (s *RunStats) observe(a *SyncAction) {
	switch a.Kind {
	case ActionCopyFile:
		s.FilesCopied++
		s.BytesCopied += a.Bytes
	case ActionDeleteFile:
		s.FilesDeleted++
	case ActionCreateDir:
		s.DirsCreated++
	case ActionDeleteDir:
		s.DirsDeleted++
	case ActionError:
		s.Errors++
	}
}

// Changed reports whether the pass mutated the replica or hit any error.
func (s *RunStats) Changed() bool {
	return s.FilesCopied > 0 || s.FilesDeleted > 0 ||
		s.DirsCreated > 0 || s.DirsDeleted > 0 || s.Errors > 0
}

// ActionSink consumes the structured action stream of a pass. The reconciler
// never formats text itself; sinks own presentation and persistence.
type ActionSink interface {
	Record(action *SyncAction)
	RecordSummary(stats *RunStats)
}

// MultiSink fans actions out to several sinks.
type MultiSink []ActionSink

func (m MultiSink) Record(action *SyncAction) {
	for _, sink := range m {
		sink.Record(action)
	}
}

func (m MultiSink) RecordSummary(stats *RunStats) {
	for _, sink := range m {
		sink.RecordSummary(stats)
	}
}
