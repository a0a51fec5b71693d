package sync

import (
	"log/slog"

	"github.com/dustin/go-humanize"
)

// SlogSink logs every action and pass summary through the process logger.
// The same record stream reaches the console and the log file via the
// multi-handler installed at startup.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Record(action *SyncAction) {
	switch action.Kind {
	case ActionError:
		s.logger.Error("sync", "op", action.Kind, "path", action.RelPath, "error", action.Err)
	case ActionCopyFile:
		s.logger.Info("sync", "op", action.Kind, "path", action.RelPath, "size", humanize.IBytes(uint64(action.Bytes)))
	default:
		s.logger.Info("sync", "op", action.Kind, "path", action.RelPath)
	}
}

func (s *SlogSink) RecordSummary(stats *RunStats) {
	s.logger.Info("pass complete",
		"copied", stats.FilesCopied,
		"removed", stats.FilesDeleted,
		"dirsCreated", stats.DirsCreated,
		"dirsRemoved", stats.DirsDeleted,
		"errors", stats.Errors,
		"bytes", humanize.IBytes(uint64(stats.BytesCopied)),
		"elapsed", stats.Elapsed,
	)
}
