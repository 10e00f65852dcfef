package shuffle

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/shufflebox/internal/app/mutator"
	"github.com/osa030/shufflebox/internal/app/pacer"
	"github.com/osa030/shufflebox/internal/app/selector"
	"github.com/osa030/shufflebox/internal/domain/apperr"
	"github.com/osa030/shufflebox/internal/domain/playlist"
	"github.com/osa030/shufflebox/internal/domain/track"
	"github.com/osa030/shufflebox/internal/infra/weightstore"
)

// journal records the order of side effects across all fakes.
type journal struct {
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

type fakeSnapshots struct {
	log       *journal
	playlists map[string]playlist.Snapshot
	fetchErrs map[string]error
	backupErr error
}

func (f *fakeSnapshots) FetchAll(ctx context.Context, playlistID string) (playlist.Snapshot, error) {
	f.log.add("fetch %s", playlistID)
	if err := f.fetchErrs[playlistID]; err != nil {
		return playlist.Snapshot{}, err
	}
	snap, ok := f.playlists[playlistID]
	if !ok {
		return playlist.Snapshot{}, apperr.NotFound(errors.Newf("no playlist %s", playlistID))
	}
	return snap, nil
}

func (f *fakeSnapshots) Backup(snap playlist.Snapshot) (string, error) {
	f.log.add("backup %s", snap.ID)
	if f.backupErr != nil {
		return "", f.backupErr
	}
	return "/backups/" + snap.ID + ".json", nil
}

type fakeMutator struct {
	log         *journal
	added       []track.ManagedTrack
	removed     []track.ManagedTrack
	removeErr   error
	addErr      error
	onRemove    func()
	addCtxError error
}

func (f *fakeMutator) RemoveAll(ctx context.Context, playlistID string, tracks []track.ManagedTrack) error {
	f.log.add("remove %s %d", playlistID, len(tracks))
	if f.onRemove != nil {
		f.onRemove()
	}
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = tracks
	return nil
}

func (f *fakeMutator) AddAll(ctx context.Context, playlistID string, tracks []track.ManagedTrack) error {
	f.log.add("add %s %d", playlistID, len(tracks))
	f.addCtxError = ctx.Err()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = tracks
	return nil
}

type memWeights struct {
	log     *journal
	records weightstore.Records
	loadErr error
}

func (m *memWeights) Load() (weightstore.Records, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(weightstore.Records, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out, nil
}

func (m *memWeights) Save(records weightstore.Records) error {
	m.log.add("save weights %d", len(records))
	m.records = records
	return nil
}

type fakeLister struct {
	handles []playlist.Handle
	err     error
}

func (f *fakeLister) CurrentUserPlaylists(ctx context.Context) ([]playlist.Handle, error) {
	return f.handles, f.err
}

func snapshotOf(id string, ids ...string) playlist.Snapshot {
	tracks := make([]track.Track, len(ids))
	for i, tid := range ids {
		tracks[i] = track.Track{ID: tid, URI: "spotify:track:" + tid, Name: "Song " + tid}
	}
	return playlist.Snapshot{ID: id, Name: "Playlist " + id, TakenAt: time.Now(), Tracks: tracks}
}

func rangeIDs(from, to int) []string {
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, fmt.Sprintf("t%03d", i))
	}
	return ids
}

type fixture struct {
	log       *journal
	snapshots *fakeSnapshots
	mutator   *fakeMutator
	weights   *memWeights
	lister    *fakeLister
	orch      *Orchestrator
}

func newFixture(playlists ...playlist.Snapshot) *fixture {
	log := &journal{}
	f := &fixture{
		log:       log,
		snapshots: &fakeSnapshots{log: log, playlists: map[string]playlist.Snapshot{}, fetchErrs: map[string]error{}},
		mutator:   &fakeMutator{log: log},
		weights:   &memWeights{log: log, records: weightstore.Records{}},
		lister:    &fakeLister{},
	}
	for _, p := range playlists {
		f.snapshots.playlists[p.ID] = p
	}
	f.orch = New(f.snapshots, f.mutator, f.lister, f.weights, selector.New(rand.New(rand.NewSource(7))))
	return f
}

func sortedIDs(tracks []track.ManagedTrack) []string {
	ids := track.IDs(tracks)
	sort.Strings(ids)
	return ids
}

func TestShuffleInPlace(t *testing.T) {
	f := newFixture(snapshotOf("pl1", rangeIDs(0, 30)...))

	result, err := f.orch.ShuffleInPlace(context.Background(), ShuffleRequest{PlaylistID: "pl1"})
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, []State{StateFetching, StateBackingUp, StateClearing, StateReordering, StateWriting, StateDone}, result.Transitions)
	assert.Equal(t, []string{"fetch pl1", "backup pl1", "remove pl1 30", "add pl1 30"}, f.log.events)
	assert.Equal(t, []string{"/backups/pl1.json"}, result.BackupPaths)
	assert.Equal(t, 30, result.Removed)
	assert.Equal(t, 30, result.Added)

	assert.Equal(t, rangeIDs(0, 30), sortedIDs(f.mutator.added))
	assert.NotEqual(t, rangeIDs(0, 30), track.IDs(f.mutator.added))
}

func TestShuffleInPlace_Duplicates(t *testing.T) {
	tests := []struct {
		name            string
		allowDuplicates bool
		expectedAdded   int
	}{
		{name: "collapsed", allowDuplicates: false, expectedAdded: 3},
		{name: "kept", allowDuplicates: true, expectedAdded: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(snapshotOf("pl1", "a", "b", "a", "c", "b"))

			result, err := f.orch.ShuffleInPlace(context.Background(), ShuffleRequest{PlaylistID: "pl1", AllowDuplicates: tt.allowDuplicates})
			require.NoError(t, err)

			assert.Equal(t, 5, result.Removed)
			assert.Equal(t, tt.expectedAdded, result.Added)
			assert.Len(t, f.mutator.added, tt.expectedAdded)
		})
	}
}

func TestShuffleInPlace_BackupFailureLeavesPlaylistUntouched(t *testing.T) {
	f := newFixture(snapshotOf("pl1", "a", "b"))
	f.snapshots.backupErr = errors.New("disk full")

	result, err := f.orch.ShuffleInPlace(context.Background(), ShuffleRequest{PlaylistID: "pl1"})

	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, []string{"fetch pl1", "backup pl1"}, f.log.events)
}

func TestShuffleInPlace_AddsEvenWhenCancelledAfterRemove(t *testing.T) {
	f := newFixture(snapshotOf("pl1", "a", "b", "c"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.mutator.onRemove = cancel

	result, err := f.orch.ShuffleInPlace(ctx, ShuffleRequest{PlaylistID: "pl1"})
	require.NoError(t, err)

	assert.NoError(t, f.mutator.addCtxError)
	assert.Equal(t, 3, result.Added)
}

// cancellingProvider cancels the run after the first remove batch.
type cancellingProvider struct {
	cancel  context.CancelFunc
	removes int
	added   []string
}

func (p *cancellingProvider) RemoveItems(ctx context.Context, playlistID string, uris []string) error {
	p.removes++
	p.cancel()
	return nil
}

func (p *cancellingProvider) AddItems(ctx context.Context, playlistID string, uris []string) error {
	p.added = append(p.added, uris...)
	return nil
}

func TestShuffleInPlace_CancelDuringPacedRemovalCompletes(t *testing.T) {
	f := newFixture(snapshotOf("pl1", rangeIDs(0, 250)...))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := &cancellingProvider{cancel: cancel}
	orch := New(f.snapshots, mutator.New(provider, pacer.New(5*time.Millisecond)), f.lister, f.weights, selector.New(rand.New(rand.NewSource(7))))

	result, err := orch.ShuffleInPlace(ctx, ShuffleRequest{PlaylistID: "pl1"})
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 3, provider.removes)
	assert.Len(t, provider.added, 250)
	assert.Equal(t, 250, result.Removed)
	assert.Equal(t, 250, result.Added)
}

func TestShuffleInPlace_CancelledBeforeClearingLeavesPlaylistUntouched(t *testing.T) {
	f := newFixture(snapshotOf("pl1", "a", "b"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.orch.ShuffleInPlace(ctx, ShuffleRequest{PlaylistID: "pl1"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, []string{"fetch pl1", "backup pl1"}, f.log.events)
}

func TestShuffleInPlace_Errors(t *testing.T) {
	t.Run("missing playlist id", func(t *testing.T) {
		f := newFixture()
		_, err := f.orch.ShuffleInPlace(context.Background(), ShuffleRequest{})
		assert.ErrorIs(t, err, apperr.ErrArgument)
		assert.Empty(t, f.log.events)
	})

	t.Run("playlist not found", func(t *testing.T) {
		f := newFixture()
		result, err := f.orch.ShuffleInPlace(context.Background(), ShuffleRequest{PlaylistID: "missing"})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.Equal(t, []State{StateFetching, StateFailed}, result.Transitions)
	})

	t.Run("add failure after remove", func(t *testing.T) {
		f := newFixture(snapshotOf("pl1", "a"))
		f.mutator.addErr = apperr.Provider(errors.New("502 Bad Gateway"))
		result, err := f.orch.ShuffleInPlace(context.Background(), ShuffleRequest{PlaylistID: "pl1"})
		assert.ErrorIs(t, err, apperr.ErrProvider)
		assert.Equal(t, StateFailed, result.State)
		assert.Equal(t, 1, result.Removed)
		assert.Equal(t, 0, result.Added)
	})
}

func TestMerge_TwoSourcesWithOverlap(t *testing.T) {
	s1 := snapshotOf("s1", rangeIDs(0, 200)...)
	s2 := snapshotOf("s2", rangeIDs(150, 350)...)
	dest := snapshotOf("dest", "old1", "old2")
	f := newFixture(s1, s2, dest)

	result, err := f.orch.Merge(context.Background(), MergeRequest{
		Sources:       []Source{{PlaylistID: "s1", Quota: 160}, {PlaylistID: "s2", Quota: 160}},
		DestinationID: "dest",
	})
	require.NoError(t, err)

	assert.Equal(t, []State{StateFetching, StateBackingUp, StateSelecting, StateClearing, StateWriting, StateWeighting, StateDone}, result.Transitions)
	assert.Equal(t, []string{"/backups/s1.json", "/backups/s2.json", "/backups/dest.json"}, result.BackupPaths)
	assert.Equal(t, 2, result.Removed)

	added := f.mutator.added
	assert.LessOrEqual(t, len(added), 320)
	assert.GreaterOrEqual(t, len(added), 270)
	assert.Equal(t, len(added), result.Added)

	unique := make(map[string]bool)
	for _, tr := range added {
		assert.False(t, unique[tr.ID], "duplicate %s", tr.ID)
		unique[tr.ID] = true
	}

	// S1's picks come first and keep every overlapping track
	s1IDs := make(map[string]bool)
	for _, id := range rangeIDs(0, 200) {
		s1IDs[id] = true
	}
	for _, tr := range added[:160] {
		assert.True(t, s1IDs[tr.ID])
	}

	// Picked tracks gained 0.2 and then decayed by 0.02
	require.Len(t, f.weights.records, len(added))
	for _, tr := range added {
		assert.InDelta(t, 0.18, f.weights.records[tr.ID], 1e-9)
	}

	assert.Equal(t, []string{
		"fetch s1", "fetch s2", "fetch dest",
		"backup s1", "backup s2", "backup dest",
		"remove dest 2", fmt.Sprintf("add dest %d", len(added)),
		fmt.Sprintf("save weights %d", len(added)), fmt.Sprintf("save weights %d", len(added)),
	}, f.log.events)
}

func TestMerge_HeavyWeightsAreNeverPicked(t *testing.T) {
	f := newFixture(snapshotOf("s1", "a", "b", "c", "d", "e", "f", "g", "h", "i", "j"), snapshotOf("dest"))
	f.weights.records = weightstore.Records{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1, "z": 0.5}

	_, err := f.orch.Merge(context.Background(), MergeRequest{
		Sources:       []Source{{PlaylistID: "s1", Quota: 5}},
		DestinationID: "dest",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"f", "g", "h", "i", "j"}, sortedIDs(f.mutator.added))

	assert.InDelta(t, 0.98, f.weights.records["a"], 1e-9)
	assert.InDelta(t, 0.48, f.weights.records["z"], 1e-9)
	assert.InDelta(t, 0.18, f.weights.records["f"], 1e-9)
}

func TestMerge_QuotaCoveringSourceTakesEverything(t *testing.T) {
	f := newFixture(snapshotOf("s1", "a", "b", "c"), snapshotOf("dest"))
	f.weights.records = weightstore.Records{"a": 1, "b": 1, "c": 1}

	result, err := f.orch.Merge(context.Background(), MergeRequest{
		Sources:       []Source{{PlaylistID: "s1", Quota: 5}},
		DestinationID: "dest",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Added)
}

func TestMerge_StrictQuotaFailsBeforeMutation(t *testing.T) {
	f := newFixture(snapshotOf("s1", "a", "b", "a"), snapshotOf("dest", "x"))

	result, err := f.orch.Merge(context.Background(), MergeRequest{
		Sources:       []Source{{PlaylistID: "s1", Quota: 3}},
		DestinationID: "dest",
		StrictQuota:   true,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrCapacity)
	assert.Equal(t, StateFailed, result.State)
	assert.Nil(t, f.mutator.removed)
	assert.NotContains(t, f.log.events, "remove dest 1")
}

func TestMerge_ExcludeAcrossSources(t *testing.T) {
	shared := rangeIDs(0, 10)
	f := newFixture(snapshotOf("s1", shared...), snapshotOf("s2", shared...), snapshotOf("dest"))

	result, err := f.orch.Merge(context.Background(), MergeRequest{
		Sources:              []Source{{PlaylistID: "s1", Quota: 5}, {PlaylistID: "s2", Quota: 5}},
		DestinationID:        "dest",
		ExcludeAcrossSources: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, result.Added)
	assert.Equal(t, shared, sortedIDs(f.mutator.added))
}

func TestMerge_SkipsFailedSource(t *testing.T) {
	f := newFixture(snapshotOf("s2", "a", "b"), snapshotOf("dest"))
	f.snapshots.fetchErrs["s1"] = apperr.Provider(errors.New("playlist has no tracks collection"))

	result, err := f.orch.Merge(context.Background(), MergeRequest{
		Sources:       []Source{{PlaylistID: "s1", Quota: 2}, {PlaylistID: "s2", Quota: 2}},
		DestinationID: "dest",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"s1"}, result.SkippedSources)
	assert.Equal(t, 2, result.Added)
}

func TestMerge_DestinationBackupWhenAlsoSource(t *testing.T) {
	f := newFixture(snapshotOf("dest", "a", "b"), snapshotOf("s2", "c", "d"))
	f.mutator.addErr = apperr.Provider(errors.New("502 Bad Gateway"))

	result, err := f.orch.Merge(context.Background(), MergeRequest{
		Sources:       []Source{{PlaylistID: "dest", Quota: 2}, {PlaylistID: "s2", Quota: 2}},
		DestinationID: "dest",
	})

	require.Error(t, err)
	assert.Equal(t, []string{"/backups/dest.json", "/backups/s2.json"}, result.BackupPaths)
	assert.Equal(t, "/backups/dest.json", result.DestinationBackup)
}

func TestMerge_CancelledBeforeClearingLeavesDestinationUntouched(t *testing.T) {
	f := newFixture(snapshotOf("dest", "x"), snapshotOf("s1", "a", "b"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.orch.Merge(ctx, MergeRequest{
		Sources:       []Source{{PlaylistID: "s1", Quota: 1}},
		DestinationID: "dest",
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, result.State)
	assert.Nil(t, f.mutator.removed)
	assert.Nil(t, f.mutator.added)
}

func TestMerge_Aborts(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		kind  error
	}{
		{
			name: "all sources fail",
			setup: func(f *fixture) {
				f.snapshots.fetchErrs["s1"] = apperr.NotFound(errors.New("404"))
			},
			kind: apperr.ErrProvider,
		},
		{
			name: "authentication failure",
			setup: func(f *fixture) {
				f.snapshots.playlists["s1"] = snapshotOf("s1", "a")
				f.snapshots.fetchErrs["s1"] = apperr.Authentication(errors.New("401"))
			},
			kind: apperr.ErrAuthentication,
		},
		{
			name: "destination missing",
			setup: func(f *fixture) {
				f.snapshots.playlists["s1"] = snapshotOf("s1", "a")
				delete(f.snapshots.playlists, "dest")
			},
			kind: apperr.ErrNotFound,
		},
		{
			name: "weight store unreadable",
			setup: func(f *fixture) {
				f.snapshots.playlists["s1"] = snapshotOf("s1", "a")
				f.weights.loadErr = errors.New("corrupt weights file")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(snapshotOf("dest", "x"))
			tt.setup(f)

			result, err := f.orch.Merge(context.Background(), MergeRequest{
				Sources:       []Source{{PlaylistID: "s1", Quota: 1}},
				DestinationID: "dest",
			})

			require.Error(t, err)
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
			}
			assert.Equal(t, StateFailed, result.State)
			assert.Nil(t, f.mutator.removed)
			assert.Nil(t, f.mutator.added)
		})
	}
}

func TestMerge_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  MergeRequest
	}{
		{name: "no destination", req: MergeRequest{Sources: []Source{{PlaylistID: "s1", Quota: 1}}}},
		{name: "no sources", req: MergeRequest{DestinationID: "dest"}},
		{name: "empty source id", req: MergeRequest{DestinationID: "dest", Sources: []Source{{Quota: 1}}}},
		{name: "negative quota", req: MergeRequest{DestinationID: "dest", Sources: []Source{{PlaylistID: "s1", Quota: -1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.orch.Merge(context.Background(), tt.req)
			assert.ErrorIs(t, err, apperr.ErrArgument)
			assert.Empty(t, f.log.events)
		})
	}
}

func TestResolve(t *testing.T) {
	f := newFixture()
	f.lister.handles = []playlist.Handle{
		{ID: "2SK04Gnd7kd92X1NjNSLHr", Name: "Curated Weebletdays"},
		{ID: "3SIDzKeTUDDni499NE3tWr", Name: "Jazz"},
		{ID: "idA", Name: "Twins"},
		{ID: "idB", Name: "twins"},
	}

	tests := []struct {
		name     string
		ref      string
		expected string
		kind     error
	}{
		{name: "bare id", ref: "6tx5BB9sVWpnbORkYX8Fqn", expected: "6tx5BB9sVWpnbORkYX8Fqn"},
		{name: "uri", ref: "spotify:playlist:abc", expected: "spotify:playlist:abc"},
		{name: "url", ref: "https://open.spotify.com/playlist/abc?si=1", expected: "https://open.spotify.com/playlist/abc?si=1"},
		{name: "name", ref: "jazz", expected: "3SIDzKeTUDDni499NE3tWr"},
		{name: "name with spaces", ref: " Curated Weebletdays ", expected: "2SK04Gnd7kd92X1NjNSLHr"},
		{name: "short listed id", ref: "idA", expected: "idA"},
		{name: "ambiguous", ref: "TWINS", kind: apperr.ErrArgument},
		{name: "unknown", ref: "Metal", kind: apperr.ErrNotFound},
		{name: "empty", ref: "  ", kind: apperr.ErrArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := f.orch.Resolve(context.Background(), tt.ref)
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestListPlaylists(t *testing.T) {
	f := newFixture()
	f.lister.handles = []playlist.Handle{{ID: "a", Name: "A", TrackTotal: 3}}

	handles, err := f.orch.ListPlaylists(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.lister.handles, handles)

	f.lister.err = apperr.Authentication(errors.New("401"))
	_, err = f.orch.ListPlaylists(context.Background())
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "idle"},
		{StateFetching, "fetching"},
		{StateBackingUp, "backing_up"},
		{StateClearing, "clearing"},
		{StateReordering, "reordering"},
		{StateSelecting, "selecting"},
		{StateWriting, "writing"},
		{StateWeighting, "weighting"},
		{StateDone, "done"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}
