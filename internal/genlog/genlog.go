// Package genlog appends human-readable entries for completed generations to a
// shared log file.
package genlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/book-expert/higgs-tts/internal/core"
	"github.com/book-expert/higgs-tts/internal/fsutil"
)

// FileName is the log's name inside the output directory.
const FileName = "generation_log.txt"

const (
	timeLayout     = "2006-01-02 15:04:05"
	noneLabel      = "none"
	separatorWidth = 50
	errFmtAppend   = "failed to append generation log %s: %w"
)

const entryFormat = `
=== Audio Generation Record ===
Time: %s
Text: %s
Output file: %s
Reference audio: %s
Temperature: %v
Top-p: %v
Max new tokens: %d
%s
`

// Log is an append-only generation log. Entries from one process never interleave.
type Log struct {
	path string
	mu   sync.Mutex
}

// New returns a Log writing to <dir>/generation_log.txt.
func New(dir string) *Log {
	return &Log{path: filepath.Join(dir, FileName)}
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Record implements core.Recorder.
func (l *Log) Record(rec core.GenerationRecord) error {
	entry := Format(rec)

	l.mu.Lock()
	defer l.mu.Unlock()

	err := fsutil.EnsureDir(filepath.Dir(l.path))
	if err != nil {
		return fmt.Errorf(errFmtAppend, l.path, err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fsutil.FilePermissions)
	if err != nil {
		return fmt.Errorf(errFmtAppend, l.path, err)
	}

	_, err = f.WriteString(entry)
	closeErr := f.Close()

	if err != nil {
		return fmt.Errorf(errFmtAppend, l.path, err)
	}

	if closeErr != nil {
		return fmt.Errorf(errFmtAppend, l.path, closeErr)
	}

	return nil
}

// Format renders one entry.
func Format(rec core.GenerationRecord) string {
	refAudio := rec.RefAudio
	if refAudio == "" {
		refAudio = noneLabel
	}

	return fmt.Sprintf(entryFormat,
		rec.Time.Format(timeLayout),
		rec.Text,
		filepath.Base(rec.OutputPath),
		refAudio,
		rec.Temperature,
		rec.TopP,
		rec.MaxNewTokens,
		strings.Repeat("=", separatorWidth),
	)
}
