// Package selector picks randomized, duplicate-aware, weight-filtered track subsets.
package selector

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shufflebox/internal/domain/apperr"
	"github.com/osa030/shufflebox/internal/domain/track"
)

// WeightLookup returns the known pick weight for a track ID.
type WeightLookup interface {
	Lookup(id string) (float64, bool)
}

// Selector shuffles and samples tracks with its own random source.
// It is not safe for concurrent use.
type Selector struct {
	rng *rand.Rand
}

// New creates a selector. A nil rng is replaced by NewRand().
func New(rng *rand.Rand) *Selector {
	if rng == nil {
		rng = NewRand()
	}
	return &Selector{rng: rng}
}

// NewRand returns a math/rand source seeded from crypto/rand,
// falling back to the clock when crypto/rand is unavailable.
func NewRand() *rand.Rand {
	var seed int64
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err == nil {
		seed = int64(binary.LittleEndian.Uint64(buf[:]))
	} else {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// RandomizeOrder returns a shuffled copy of tracks.
// When allowDuplicates is false the input is first collapsed to one entry per
// track ID (first seen wins). Every remaining track gets a fresh shuffle key in
// [0, MaxInt32) and the result is sorted ascending by key.
func (s *Selector) RandomizeOrder(tracks []track.ManagedTrack, allowDuplicates bool) []track.ManagedTrack {
	var out []track.ManagedTrack
	if allowDuplicates {
		out = make([]track.ManagedTrack, len(tracks))
		copy(out, tracks)
	} else {
		out = Deduplicate(tracks)
	}

	for i := range out {
		out[i].ShuffleKey = s.rng.Intn(math.MaxInt32)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ShuffleKey < out[j].ShuffleKey
	})

	return out
}

// Deduplicate keeps the first occurrence of every track ID, in arrival order.
func Deduplicate(tracks []track.ManagedTrack) []track.ManagedTrack {
	seen := make(map[string]bool, len(tracks))
	out := make([]track.ManagedTrack, 0, len(tracks))
	for _, t := range tracks {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out
}

// TakeFirstN returns the first n tracks of an already shuffled list,
// or the whole list when n >= len(ordered).
func TakeFirstN(ordered []track.ManagedTrack, n int) []track.ManagedTrack {
	if n < 0 {
		n = 0
	}
	if n >= len(ordered) {
		return ordered
	}
	return ordered[:n]
}

// RequireCapacity fails with a capacity error when n tracks cannot be served from available.
func RequireCapacity(available, n int) error {
	if n > available {
		return apperr.Capacity(errors.Newf("cannot select %d tracks when only %d are available", n, available))
	}
	return nil
}

// TakeWeighted walks the shuffled list and accepts up to n tracks.
//
// A track without a weight record is always accepted. A track with weight w is
// accepted only when a uniform roll in [0,1) is greater than w, so heavily picked
// tracks are rarely picked again. Tracks whose ID is in picked are skipped; every
// accepted ID is added to picked when it is non-nil.
//
// When the list is exhausted before n tracks are accepted the short selection is
// returned and a warning is logged.
func (s *Selector) TakeWeighted(ordered []track.ManagedTrack, n int, weights WeightLookup, picked map[string]bool) []track.ManagedTrack {
	selected := make([]track.ManagedTrack, 0, min(max(n, 0), len(ordered)))

	for i := 0; i < len(ordered) && len(selected) < n; i++ {
		candidate := ordered[i]
		if picked != nil && picked[candidate.ID] {
			continue
		}

		w, ok := weights.Lookup(candidate.ID)
		if !ok {
			zlog.Debug().Msgf("No weight data for %s, adding without rolling", candidate.Name)
			selected = append(selected, candidate)
		} else {
			candidate.PickWeight = w
			roll := s.rng.Float64()
			if roll <= w {
				zlog.Debug().Msgf("Roll %.3f <= weight %.3f, skipping %s", roll, w, candidate.Name)
				continue
			}
			zlog.Debug().Msgf("Roll %.3f > weight %.3f, adding %s", roll, w, candidate.Name)
			selected = append(selected, candidate)
		}

		if picked != nil {
			picked[candidate.ID] = true
		}
	}

	if len(selected) < n {
		zlog.Warn().Msgf("Weighted selection exhausted %d candidates with %d of %d tracks picked", len(ordered), len(selected), n)
	}

	return selected
}
