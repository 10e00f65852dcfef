// Package shuffle composes snapshots, selection and mutation into the
// in-place shuffle and weighted merge workflows.
package shuffle

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shufflebox/internal/app/selector"
	"github.com/osa030/shufflebox/internal/domain/apperr"
	"github.com/osa030/shufflebox/internal/domain/playlist"
	"github.com/osa030/shufflebox/internal/domain/track"
)

// Snapshotter reads playlists and writes backups.
type Snapshotter interface {
	FetchAll(ctx context.Context, playlistID string) (playlist.Snapshot, error)
	Backup(snap playlist.Snapshot) (string, error)
}

// Mutator applies batched playlist changes.
type Mutator interface {
	RemoveAll(ctx context.Context, playlistID string, tracks []track.ManagedTrack) error
	AddAll(ctx context.Context, playlistID string, tracks []track.ManagedTrack) error
}

// PlaylistLister lists the playlists visible to the current user.
type PlaylistLister interface {
	CurrentUserPlaylists(ctx context.Context) ([]playlist.Handle, error)
}

// ShuffleRequest describes an in-place shuffle.
type ShuffleRequest struct {
	PlaylistID      string
	AllowDuplicates bool // Keep repeated tracks instead of collapsing them
}

// Source is one merge input and the number of tracks to take from it.
type Source struct {
	PlaylistID string
	Quota      int
}

// MergeRequest describes a weighted merge of several sources into one destination.
type MergeRequest struct {
	Sources       []Source
	DestinationID string

	// StrictQuota fails the merge before any mutation when a source holds
	// fewer unique tracks than its quota.
	StrictQuota bool

	// ExcludeAcrossSources makes a track picked from an earlier source
	// ineligible for later sources, so every source fills its quota with
	// tracks not already selected.
	ExcludeAcrossSources bool
}

// Result reports what a workflow did.
type Result struct {
	State             State
	Transitions       []State
	BackupPaths       []string
	DestinationBackup string // Backup of the playlist being rewritten
	SkippedSources    []string
	Removed           int
	Added             int
}

// Orchestrator runs shuffle and merge workflows one at a time.
type Orchestrator struct {
	snapshots Snapshotter
	mutator   Mutator
	lister    PlaylistLister
	weights   selector.WeightStore
	selector  *selector.Selector
}

// New creates an Orchestrator. A nil selector gets a freshly seeded one.
func New(snapshots Snapshotter, mutator Mutator, lister PlaylistLister, weights selector.WeightStore, sel *selector.Selector) *Orchestrator {
	if sel == nil {
		sel = selector.New(nil)
	}
	return &Orchestrator{
		snapshots: snapshots,
		mutator:   mutator,
		lister:    lister,
		weights:   weights,
		selector:  sel,
	}
}

// ShuffleInPlace rewrites a playlist with its own tracks in a new random order.
//
// The sequence is Fetch, Backup, RemoveAll, reorder, AddAll. Cancellation of
// ctx is honoured up to the clear; from then on removal and re-adding run to
// completion so the playlist is never left half-cleared.
func (o *Orchestrator) ShuffleInPlace(ctx context.Context, req ShuffleRequest) (Result, error) {
	run := newRun(ctx, "shuffle", req.PlaylistID)
	if strings.TrimSpace(req.PlaylistID) == "" {
		return run.fail(apperr.Argument(errors.New("playlist id is required")))
	}

	run.enter(StateFetching)
	snap, err := o.snapshots.FetchAll(ctx, req.PlaylistID)
	if err != nil {
		return run.fail(err)
	}

	run.enter(StateBackingUp)
	path, err := o.snapshots.Backup(snap)
	if err != nil {
		return run.fail(errors.Wrapf(err, "refusing to shuffle %s without a backup", snap.Name))
	}
	run.result.BackupPaths = append(run.result.BackupPaths, path)
	run.result.DestinationBackup = path

	tracks := snap.Managed()

	if err := ctx.Err(); err != nil {
		return run.fail(errors.Wrap(err, "cancelled before clearing"))
	}
	mutateCtx := context.WithoutCancel(ctx)

	run.enter(StateClearing)
	if err := o.mutator.RemoveAll(mutateCtx, snap.ID, tracks); err != nil {
		run.log.Error().Msgf("Playlist %s may be incomplete, restore from %s", snap.Name, path)
		return run.fail(err)
	}
	run.result.Removed = len(tracks)

	run.enter(StateReordering)
	ordered := o.selector.RandomizeOrder(tracks, req.AllowDuplicates)

	run.enter(StateWriting)
	if err := o.mutator.AddAll(mutateCtx, snap.ID, ordered); err != nil {
		run.log.Error().Msgf("Playlist %s may be incomplete, restore from %s", snap.Name, path)
		return run.fail(err)
	}
	run.result.Added = len(ordered)

	run.log.Info().Msgf("Shuffled %d tracks in %s", len(ordered), snap.Name)
	return run.done()
}

// Merge replaces the destination with a weighted random selection from the sources.
//
// Sources that cannot be fetched are skipped; the merge aborts when none can.
// Every fetched source and the destination are backed up before anything is
// changed. Selection (weight load, per-source weighted pick, capacity check,
// cross-source dedup with the earlier source winning) completes before the
// destination is cleared. After the new tracks are written, the selected
// tracks gain weight and then every known weight decays.
func (o *Orchestrator) Merge(ctx context.Context, req MergeRequest) (Result, error) {
	run := newRun(ctx, "merge", req.DestinationID)
	if err := validateMerge(req); err != nil {
		return run.fail(err)
	}

	run.enter(StateFetching)
	type fetched struct {
		snap  playlist.Snapshot
		quota int
	}
	sources := make([]fetched, 0, len(req.Sources))
	for _, src := range req.Sources {
		snap, err := o.snapshots.FetchAll(ctx, src.PlaylistID)
		if err != nil {
			if apperr.IsFatal(err) {
				return run.fail(err)
			}
			run.log.Warn().Err(err).Msgf("Skipping source playlist %s", src.PlaylistID)
			run.result.SkippedSources = append(run.result.SkippedSources, src.PlaylistID)
			continue
		}
		sources = append(sources, fetched{snap: snap, quota: src.Quota})
	}
	if len(sources) == 0 {
		return run.fail(apperr.Provider(errors.Newf("none of the %d source playlists could be fetched", len(req.Sources))))
	}

	dest, err := o.snapshots.FetchAll(ctx, req.DestinationID)
	if err != nil {
		return run.fail(errors.Wrap(err, "failed to fetch destination playlist"))
	}

	run.enter(StateBackingUp)
	toBackup := make([]playlist.Snapshot, 0, len(sources)+1)
	for _, src := range sources {
		toBackup = append(toBackup, src.snap)
	}
	backedUp := make(map[string]string, len(toBackup)+1)
	for _, snap := range append(toBackup, dest) {
		if _, ok := backedUp[snap.ID]; ok {
			continue
		}
		path, err := o.snapshots.Backup(snap)
		if err != nil {
			return run.fail(errors.Wrapf(err, "refusing to merge without a backup of %s", snap.Name))
		}
		backedUp[snap.ID] = path
		run.result.BackupPaths = append(run.result.BackupPaths, path)
	}
	destBackup := backedUp[dest.ID]
	run.result.DestinationBackup = destBackup

	run.enter(StateSelecting)
	records, err := o.weights.Load()
	if err != nil {
		return run.fail(errors.Wrap(err, "failed to load track weights"))
	}

	var picked map[string]bool
	if req.ExcludeAcrossSources {
		picked = make(map[string]bool)
	}

	var merged []track.ManagedTrack
	for _, src := range sources {
		ordered := o.selector.RandomizeOrder(src.snap.Managed(), false)
		if req.StrictQuota {
			if err := selector.RequireCapacity(len(ordered), src.quota); err != nil {
				return run.fail(errors.Wrapf(err, "source %s", src.snap.Name))
			}
		}

		picks := o.pick(ordered, src.quota, records, picked)
		run.log.Info().Msgf("Picked %d of %d requested tracks from %s", len(picks), src.quota, src.snap.Name)
		merged = append(merged, picks...)
	}
	final := selector.Deduplicate(merged)
	if dropped := len(merged) - len(final); dropped > 0 {
		run.log.Info().Msgf("Dropped %d tracks picked by more than one source", dropped)
	}

	if err := ctx.Err(); err != nil {
		return run.fail(errors.Wrap(err, "cancelled before clearing"))
	}
	mutateCtx := context.WithoutCancel(ctx)

	run.enter(StateClearing)
	current := dest.Managed()
	if err := o.mutator.RemoveAll(mutateCtx, dest.ID, current); err != nil {
		run.log.Error().Msgf("Playlist %s may be incomplete, restore from %s", dest.Name, destBackup)
		return run.fail(err)
	}
	run.result.Removed = len(current)

	run.enter(StateWriting)
	if err := o.mutator.AddAll(mutateCtx, dest.ID, final); err != nil {
		run.log.Error().Msgf("Playlist %s may be incomplete, restore from %s", dest.Name, destBackup)
		return run.fail(err)
	}
	run.result.Added = len(final)

	run.enter(StateWeighting)
	if err := selector.IncrementWeights(o.weights, track.IDs(final)); err != nil {
		return run.fail(err)
	}
	if err := selector.DecrementAllWeights(o.weights); err != nil {
		return run.fail(err)
	}

	run.log.Info().Msgf("Merged %d tracks from %d sources into %s", len(final), len(sources), dest.Name)
	return run.done()
}

// pick takes quota tracks from an already shuffled source. When the quota
// covers the whole source every track is taken without rolling.
func (o *Orchestrator) pick(ordered []track.ManagedTrack, quota int, weights selector.WeightLookup, picked map[string]bool) []track.ManagedTrack {
	if quota < len(ordered) {
		return o.selector.TakeWeighted(ordered, quota, weights, picked)
	}

	all := make([]track.ManagedTrack, 0, len(ordered))
	for _, t := range ordered {
		if picked != nil {
			if picked[t.ID] {
				continue
			}
			picked[t.ID] = true
		}
		all = append(all, t)
	}
	return all
}

func validateMerge(req MergeRequest) error {
	if strings.TrimSpace(req.DestinationID) == "" {
		return apperr.Argument(errors.New("destination playlist id is required"))
	}
	if len(req.Sources) == 0 {
		return apperr.Argument(errors.New("at least one source playlist is required"))
	}
	for i, src := range req.Sources {
		if strings.TrimSpace(src.PlaylistID) == "" {
			return apperr.Argument(errors.Newf("source %d has no playlist id", i+1))
		}
		if src.Quota < 0 {
			return apperr.Argument(errors.Newf("source %s has negative quota %d", src.PlaylistID, src.Quota))
		}
	}
	return nil
}

// Resolve turns a playlist reference into something the provider accepts.
// IDs, URIs and URLs are returned unchanged; anything else is matched
// case-insensitively against the names of the user's playlists.
func (o *Orchestrator) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", apperr.Argument(errors.New("playlist reference is required"))
	}
	if playlist.IsReference(ref) {
		return ref, nil
	}
	if o.lister == nil {
		return "", apperr.Argument(errors.Newf("cannot resolve playlist name %q without a playlist lister", ref))
	}

	handles, err := o.lister.CurrentUserPlaylists(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to list playlists")
	}

	var matches []playlist.Handle
	for _, h := range handles {
		if h.ID == ref || strings.EqualFold(h.Name, ref) {
			matches = append(matches, h)
		}
	}

	switch len(matches) {
	case 0:
		return "", apperr.NotFound(errors.Newf("no playlist named %q", ref))
	case 1:
		zlog.Debug().Msgf("Resolved playlist %q to %s", ref, matches[0].ID)
		return matches[0].ID, nil
	default:
		return "", apperr.Argument(errors.Newf("playlist name %q is ambiguous (%d matches)", ref, len(matches)))
	}
}

// ListPlaylists returns the user's playlists.
func (o *Orchestrator) ListPlaylists(ctx context.Context) ([]playlist.Handle, error) {
	if o.lister == nil {
		return nil, apperr.Argument(errors.New("no playlist lister configured"))
	}
	return o.lister.CurrentUserPlaylists(ctx)
}

// run tracks state transitions of one workflow.
type run struct {
	op     string
	target string
	log    *zerolog.Logger
	result *Result
}

func newRun(ctx context.Context, op, target string) *run {
	logger := zlog.Ctx(ctx).With().Str("op", op).Str("playlist", target).Logger()
	return &run{
		op:     op,
		target: target,
		log:    &logger,
		result: &Result{State: StateIdle},
	}
}

func (r *run) enter(s State) {
	r.log.Debug().Msgf("%s %s: %s -> %s", r.op, r.target, r.result.State, s)
	r.result.State = s
	r.result.Transitions = append(r.result.Transitions, s)
}

func (r *run) fail(err error) (Result, error) {
	from := r.result.State
	r.enter(StateFailed)
	r.log.Error().Err(err).Msgf("%s of %s failed while %s", r.op, r.target, from)
	return *r.result, err
}

func (r *run) done() (Result, error) {
	r.enter(StateDone)
	return *r.result, nil
}
