// Package weightstore persists per-track pick weights.
package weightstore

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// Record is a persisted pick weight for one track.
// Field names match the KnownTrackWeights.json layout.
type Record struct {
	ID         string  `json:"Id"`
	PickWeight float64 `json:"PickWeight"`
}

// Records maps track ID to pick weight.
type Records map[string]float64

// Lookup returns the pick weight for id and whether a record exists.
func (r Records) Lookup(id string) (float64, bool) {
	w, ok := r[id]
	return w, ok
}

// List returns the records sorted by track ID.
func (r Records) List() []Record {
	list := make([]Record, 0, len(r))
	for id, w := range r {
		list = append(list, Record{ID: id, PickWeight: w})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

// Store loads and saves the full record set.
// Callers always Save the complete set they loaded, so no record is ever dropped.
type Store interface {
	Load() (Records, error)
	Save(records Records) error
	Close() error
}

// Config represents weight store configuration.
type Config struct {
	Driver string // "file" or "sqlite"
	Path   string
}

// Open creates the store selected by cfg.Driver.
func Open(cfg Config) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("weight store path is required")
	}

	switch cfg.Driver {
	case "file", "":
		return NewFileStore(cfg.Path), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, errors.Newf("unsupported weight store driver: %s", cfg.Driver)
	}
}
