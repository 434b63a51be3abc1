package report

import (
	"encoding/json"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// File writes events to a size-rotated JSONL file. Telemetry lines can be
// fed back through session.Replay.
type File struct {
	mu  sync.Mutex
	lj  *lumberjack.Logger
	enc *json.Encoder
}

// NewFile creates a File reporter. maxSizeMB <= 0 uses lumberjack's default.
func NewFile(path string, maxSizeMB, maxBackups int) *File {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	return &File{lj: lj, enc: json.NewEncoder(lj)}
}

// Report implements Reporter.
func (f *File) Report(e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enc.Encode(e)
}

// Close closes the underlying file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lj.Close()
}
