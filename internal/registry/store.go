package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/logging"
)

// Store persists whole registry snapshots.
type Store interface {
	Save(ctx context.Context, entries Metadata) error
	Load(ctx context.Context) (Metadata, error)
}

// FileStore keeps the registry in one pretty-printed JSON document.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the metadata file location.
func (s *FileStore) Path() string {
	return s.path
}

// Save overwrites the document with entries. The data goes to a temporary
// file in the same directory that is then renamed over the target, so
// concurrent saves never interleave bytes; the last rename wins.
func (s *FileStore) Save(_ context.Context, entries Metadata) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeMetadataWrite, "encoding metadata failed", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError(errors.ErrCodeMetadataWrite, "creating metadata directory failed", err).WithFile(dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.NewIOError(errors.ErrCodeMetadataWrite, "creating temporary metadata file failed", err).WithFile(s.path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeMetadataWrite, "writing metadata failed", err).WithFile(s.path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeMetadataWrite, "writing metadata failed", err).WithFile(s.path)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeMetadataWrite, "setting metadata permissions failed", err).WithFile(s.path)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeMetadataWrite, "replacing metadata file failed", err).WithFile(s.path)
	}

	return nil
}

// Load reads and parses the document. Unknown keys inside entries are
// ignored and missing ones are left empty.
func (s *FileStore) Load(_ context.Context) (Metadata, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeMetadataRead, "reading metadata failed", err).WithFile(s.path)
	}

	var entries Metadata
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeMetadataRead, "parsing metadata failed", err).WithFile(s.path)
	}
	if entries == nil {
		entries = make(Metadata)
	}

	return entries, nil
}

// Load reads the metadata file at path. Any read or parse failure is logged
// as a warning and yields an empty registry, never an error: a damaged
// metadata file must degrade to "nothing resolved".
func Load(ctx context.Context, path string, logger logging.Logger) Metadata {
	entries, err := NewFileStore(path).Load(ctx)
	if err != nil {
		if logger != nil {
			logger.Warn(ctx, err, "Metadata unavailable, using empty registry", "path", path)
		}
		return make(Metadata)
	}
	return entries
}
