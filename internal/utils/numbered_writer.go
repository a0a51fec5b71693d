package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// NumberedWriter implements io.Writer and prefixes every complete line with a
// monotonically increasing sequence number and an RFC3339 timestamp before
// forwarding it to the target writer. Used for the sync log file so records
// stay ordered and attributable even when the file is appended to across runs.
type NumberedWriter struct {
	target io.Writer
	seq    atomic.Uint64
	buf    bytes.Buffer
}

func NewNumberedWriter(target io.Writer) *NumberedWriter {
	return &NumberedWriter{target: target}
}

func (w *NumberedWriter) writeLine(line []byte) (int, error) {
	total := 0

	prefix := slog.Uint64("line", w.seq.Add(1)).String() + " " +
		slog.String("time", time.Now().Format(time.RFC3339)).String() + " "
	n, err := io.WriteString(w.target, prefix)
	total += n
	if err != nil {
		return total, err
	}

	n, err = w.target.Write(line)
	total += n
	if err != nil {
		return total, err
	}

	n, err = io.WriteString(w.target, "\n")
	total += n
	return total, err
}

// Write buffers the input and emits complete lines with their prefix;
// a trailing partial line stays buffered until its newline arrives.
// Returns the number of bytes written to the target and any error.
func (w *NumberedWriter) Write(p []byte) (int, error) {
	if _, err := w.buf.Write(p); err != nil {
		return 0, err
	}

	total := 0
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			return total, nil
		}
		line := bytes.TrimSuffix(w.buf.Next(idx+1), []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		n, err := w.writeLine(line)
		total += n
		if err != nil {
			return total, err
		}
	}
}

// Close flushes any trailing partial line to the target writer.
func (w *NumberedWriter) Close() error {
	if w.buf.Len() == 0 {
		return nil
	}
	remaining := append([]byte(nil), w.buf.Bytes()...)
	w.buf.Reset()
	_, err := w.writeLine(remaining)
	return err
}
