package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStats_Observe(t *testing.T) {
	stats := &RunStats{}
	actions := []*SyncAction{
		{Kind: ActionCreateDir, RelPath: "d"},
		{Kind: ActionCopyFile, RelPath: "d/a.txt", Bytes: 100},
		{Kind: ActionCopyFile, RelPath: "d/b.txt", Bytes: 50},
		{Kind: ActionDeleteFile, RelPath: "old.txt"},
		{Kind: ActionDeleteDir, RelPath: "olddir"},
		{Kind: ActionError, RelPath: "bad.txt", Err: errors.New("boom")},
	}
	for _, a := range actions {
		stats.observe(a)
	}

	assert.Equal(t, 2, stats.FilesCopied)
	assert.Equal(t, 1, stats.FilesDeleted)
	assert.Equal(t, 1, stats.DirsCreated)
	assert.Equal(t, 1, stats.DirsDeleted)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, int64(150), stats.BytesCopied)
	assert.True(t, stats.Changed())

	assert.False(t, (&RunStats{}).Changed())
}

type captureSink struct {
	actions   []*SyncAction
	summaries []*RunStats
}

func (c *captureSink) Record(a *SyncAction) { c.actions = append(c.actions, a) }
func (c *captureSink) RecordSummary(s *RunStats) { c.summaries = append(c.summaries, s) }

func TestMultiSink_FansOut(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	sink := MultiSink{a, b}

	sink.Record(&SyncAction{Kind: ActionCopyFile, RelPath: "f"})
	sink.RecordSummary(&RunStats{FilesCopied: 1})

	assert.Len(t, a.actions, 1)
	assert.Len(t, b.actions, 1)
	assert.Len(t, a.summaries, 1)
	assert.Len(t, b.summaries, 1)
}
