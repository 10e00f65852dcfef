package selector

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shufflebox/internal/infra/weightstore"
)

const (
	// WeightIncrement is added to a track's weight each time it is picked.
	WeightIncrement = 0.2
	// WeightDecay is subtracted from every known weight once per cycle.
	WeightDecay = 0.02
	// MinWeight is the floor decayed weights are clamped to.
	MinWeight = 0.0
)

// WeightStore is the persistence needed for weight bookkeeping.
type WeightStore interface {
	Load() (weightstore.Records, error)
	Save(records weightstore.Records) error
}

// IncrementWeights raises the weight of every selected track by WeightIncrement,
// creating a record at WeightIncrement for unknown tracks, then saves the full set.
// Repeated IDs in selectedIDs are counted once.
func IncrementWeights(store WeightStore, selectedIDs []string) error {
	records, err := store.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load track weights")
	}

	seen := make(map[string]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		if w, ok := records[id]; ok {
			records[id] = w + WeightIncrement
			zlog.Debug().Msgf("Incremented track weight for %s to %.2f", id, records[id])
			continue
		}
		records[id] = WeightIncrement
		zlog.Debug().Msgf("Created track weight for %s at %.2f", id, WeightIncrement)
	}

	if err := store.Save(records); err != nil {
		return errors.Wrap(err, "failed to save track weights")
	}
	zlog.Info().Msgf("Incremented weights for %d tracks (%d known)", len(seen), len(records))
	return nil
}

// DecrementAllWeights lowers every known weight by WeightDecay, clamped at MinWeight,
// then saves the full set.
func DecrementAllWeights(store WeightStore) error {
	records, err := store.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load track weights")
	}

	for id, w := range records {
		records[id] = decay(w)
	}

	if err := store.Save(records); err != nil {
		return errors.Wrap(err, "failed to save track weights")
	}
	zlog.Info().Msgf("Decayed weights for %d tracks", len(records))
	return nil
}

func decay(w float64) float64 {
	w -= WeightDecay
	if w < MinWeight {
		return MinWeight
	}
	return w
}
