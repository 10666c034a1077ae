// Package history keeps a retention-capped, append-only log of run results per operation.
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operation names.
const (
	OpTrain            = "train"
	OpDetect           = "detect"
	OpSelfDiagnostics  = "self_diagnostics"
	OpFixtureAnomalies = "fixture_anomalies"
)

// Record is one persisted run result.
type Record struct {
	ID     string          `json:"id"`
	Time   time.Time       `json:"time"`
	Job    string          `json:"job"`
	Result json.RawMessage `json:"result"`
}

// Store is the history contract used by the pipeline and the operation surface.
type Store interface {
	Append(op, job string, payload any, id string) (string, error)
	Read(op, id string) (Record, bool, error)
	List(op, job string) ([]Record, error)
}

// FileStore writes one JSON-lines file per operation under a directory.
type FileStore struct {
	mu        sync.Mutex
	dir       string
	retention int
	now       func() time.Time
	newID     func() string
}

// NewFileStore creates dir if needed. retention caps the records kept per operation.
func NewFileStore(dir string, retention int) (*FileStore, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("history retention must be positive, got %d", retention)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{
		dir:       dir,
		retention: retention,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// Append stores payload for op and returns the record id, generating one when id is empty.
// Only the newest retention records survive.
func (s *FileStore) Append(op, job string, payload any, id string) (string, error) {
	result, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", op, err)
	}
	if id == "" {
		id = s.newID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll(op)
	if err != nil {
		return "", err
	}
	records = append(records, Record{ID: id, Time: s.now().UTC(), Job: job, Result: result})
	if len(records) > s.retention {
		records = records[len(records)-s.retention:]
	}
	if err := s.writeAll(op, records); err != nil {
		return "", err
	}
	return id, nil
}

// Read looks id up in op's history: an exact id match wins, then an integer
// index (negative counts from the newest record), and anything else falls back
// to the newest record. ok is false only when the history is empty.
func (s *FileStore) Read(op, id string) (Record, bool, error) {
	s.mu.Lock()
	records, err := s.readAll(op)
	s.mu.Unlock()
	if err != nil {
		return Record{}, false, err
	}
	if len(records) == 0 {
		return Record{}, false, nil
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ID == id {
			return records[i], true, nil
		}
	}
	if n, err := strconv.Atoi(id); err == nil {
		if n < 0 {
			n += len(records)
		}
		if n >= 0 && n < len(records) {
			return records[n], true, nil
		}
	}
	return records[len(records)-1], true, nil
}

// List returns op's records, oldest first, optionally filtered by job.
func (s *FileStore) List(op, job string) ([]Record, error) {
	s.mu.Lock()
	records, err := s.readAll(op)
	s.mu.Unlock()
	if err != nil || job == "" {
		return records, err
	}
	out := records[:0]
	for _, r := range records {
		if r.Job == job {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *FileStore) path(op string) string {
	return filepath.Join(s.dir, op+".jsonl")
}

func (s *FileStore) readAll(op string) ([]Record, error) {
	f, err := os.Open(s.path(op))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s history: %w", op, err)
	}
	defer f.Close()

	var records []Record
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("decode %s history: %w", op, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *FileStore) writeAll(op string, records []Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode %s history: %w", op, err)
		}
	}
	tmp, err := os.CreateTemp(s.dir, op+".jsonl.tmp-*")
	if err != nil {
		return fmt.Errorf("create %s history: %w", op, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s history: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s history: %w", op, err)
	}
	if err := os.Rename(tmp.Name(), s.path(op)); err != nil {
		return fmt.Errorf("replace %s history: %w", op, err)
	}
	return nil
}
