// Package record persists phase cycle results and keeps background read exceptions for later inspection.
package record

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CycleRecord is one phase sampling cycle as written to the journal.
type CycleRecord struct {
	CycleID   string    `json:"cycle_id"`
	Seq       int       `json:"seq"`
	Target    string    `json:"target"`
	AntennaA  int       `json:"antenna_a"`
	AntennaB  int       `json:"antenna_b"`
	CountA    int       `json:"count_a"`
	CountB    int       `json:"count_b"`
	Deltas    []int     `json:"deltas"`
	Mean      *float64  `json:"mean,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// JSONLRecorder appends cycle records as JSON lines for later analysis.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single cycle to the underlying JSONL file.
func (r *JSONLRecorder) Record(rec CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return os.ErrClosed
	}
	return r.enc.Encode(rec)
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
