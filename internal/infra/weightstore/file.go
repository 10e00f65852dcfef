package weightstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// FileStore keeps all records in a single JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path of the store.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads all records. A missing file yields an empty set.
func (s *FileStore) Load() (Records, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		zlog.Debug().Msgf("No track weight file at %s, starting empty", s.path)
		return Records{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read track weight file")
	}

	var list []Record
	if len(data) > 0 {
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, errors.Wrap(err, "failed to parse track weight file")
		}
	}

	records := make(Records, len(list))
	for _, r := range list {
		records[r.ID] = r.PickWeight
	}
	zlog.Debug().Msgf("Loaded %d track weights from %s", len(records), s.path)
	return records, nil
}

// Save replaces the file with the given records.
// The new content is written to a temp file first and renamed into place.
func (s *FileStore) Save(records Records) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create track weight directory")
	}

	data, err := json.MarshalIndent(records.List(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode track weights")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".weights-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temp weight file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write temp weight file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp weight file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "failed to replace track weight file")
	}

	zlog.Debug().Msgf("Wrote %d track weights to %s", len(records), s.path)
	return nil
}

// Close is a no-op for file stores.
func (s *FileStore) Close() error {
	return nil
}
