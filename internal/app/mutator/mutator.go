// Package mutator applies batched add/remove operations to a playlist.
package mutator

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shufflebox/internal/app/pacer"
	"github.com/osa030/shufflebox/internal/domain/apperr"
	"github.com/osa030/shufflebox/internal/domain/track"
)

// MaxBatchSize is the most URIs the playlist service accepts per call.
const MaxBatchSize = 100

// Provider is the write side of the playlist service.
// Every call receives at most MaxBatchSize URIs.
type Provider interface {
	AddItems(ctx context.Context, playlistID string, uris []string) error
	RemoveItems(ctx context.Context, playlistID string, uris []string) error
}

// Mutator adds and removes tracks in batches, pacing each call.
type Mutator struct {
	provider Provider
	pacer    *pacer.Pacer
}

// New creates a Mutator.
func New(provider Provider, p *pacer.Pacer) *Mutator {
	if p == nil {
		p = pacer.Disabled()
	}
	return &Mutator{provider: provider, pacer: p}
}

// RemoveAll removes every given track from the playlist.
// All URIs are validated before the first call, so an empty URI aborts with
// an argument error and nothing is removed.
func (m *Mutator) RemoveAll(ctx context.Context, playlistID string, tracks []track.ManagedTrack) error {
	uris, err := collectURIs(tracks)
	if err != nil {
		return errors.Wrapf(err, "cannot remove tracks from %s", playlistID)
	}

	return m.apply(ctx, playlistID, uris, "remove", m.provider.RemoveItems)
}

// AddAll appends tracks to the playlist in the given order.
func (m *Mutator) AddAll(ctx context.Context, playlistID string, tracks []track.ManagedTrack) error {
	uris, err := collectURIs(tracks)
	if err != nil {
		return errors.Wrapf(err, "cannot add tracks to %s", playlistID)
	}

	return m.apply(ctx, playlistID, uris, "add", m.provider.AddItems)
}

func (m *Mutator) apply(
	ctx context.Context,
	playlistID string,
	uris []string,
	op string,
	call func(ctx context.Context, playlistID string, uris []string) error,
) error {
	batches := Chunk(uris, MaxBatchSize)
	for i, batch := range batches {
		if err := m.pacer.Wait(ctx); err != nil {
			return errors.Wrapf(err, "%s batch %d/%d of %s", op, i+1, len(batches), playlistID)
		}
		zlog.Debug().Msgf("Attempting to %s %d tracks (batch %d/%d) on %s", op, len(batch), i+1, len(batches), playlistID)
		if err := call(ctx, playlistID, batch); err != nil {
			return errors.Wrapf(err, "failed to %s batch %d/%d on %s", op, i+1, len(batches), playlistID)
		}
	}

	zlog.Info().Msgf("Finished %s of %d tracks on %s in %d calls", op, len(uris), playlistID, len(batches))
	return nil
}

// Chunk splits items into consecutive batches of at most size, keeping order.
func Chunk(items []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatchSize
	}
	batches := make([][]string, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		batches = append(batches, items[i:end])
	}
	return batches
}

func collectURIs(tracks []track.ManagedTrack) ([]string, error) {
	uris := make([]string, len(tracks))
	for i, t := range tracks {
		if strings.TrimSpace(t.URI) == "" {
			return nil, apperr.Argument(errors.Newf("track %q (%s) has an empty URI", t.Name, t.ID))
		}
		uris[i] = t.URI
	}
	return uris, nil
}
