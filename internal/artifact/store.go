package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Store reads and writes encoded artifacts as whole units. Stores do not lock;
// callers serialise access.
type Store interface {
	Save(job string, data []byte) error
	Load(job string) ([]byte, bool, error)
}

// FileStore keeps one file per job under a directory and replaces it atomically.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the artifact file for job.
func (s *FileStore) Path(job string) string {
	return filepath.Join(s.dir, job+".model")
}

// Save writes data to a temporary file and renames it over the previous artifact.
func (s *FileStore) Save(job string, data []byte) error {
	if job == "" || strings.ContainsAny(job, `/\`) {
		return fmt.Errorf("invalid job name %q", job)
	}
	tmp, err := os.CreateTemp(s.dir, job+".model.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(job)); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

// Load returns the stored bytes for job; ok is false when the job was never trained.
func (s *FileStore) Load(job string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.Path(job))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read artifact: %w", err)
	}
	return data, true, nil
}
