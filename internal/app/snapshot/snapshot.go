// Package snapshot fetches full playlist listings and writes backup artifacts.
package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shufflebox/internal/app/pacer"
	"github.com/osa030/shufflebox/internal/domain/apperr"
	"github.com/osa030/shufflebox/internal/domain/playlist"
	"github.com/osa030/shufflebox/internal/domain/track"
)

// PageSize is the number of items requested per page (Spotify maximum).
const PageSize = 100

// backupTimeLayout is a sortable, filename-safe ISO-8601 variant.
const backupTimeLayout = "2006-01-02_T15-04-05"

// Provider is the read side of the playlist service.
type Provider interface {
	GetPlaylist(ctx context.Context, playlistID string) (playlist.Handle, error)
	GetPlaylistItems(ctx context.Context, playlistID string, offset, limit int) (track.Page, error)
}

// Snapshotter fetches playlists and backs them up to disk.
type Snapshotter struct {
	provider  Provider
	pacer     *pacer.Pacer
	backupDir string
	now       func() time.Time
}

// New creates a Snapshotter writing backups under backupDir.
func New(provider Provider, p *pacer.Pacer, backupDir string) *Snapshotter {
	if p == nil {
		p = pacer.Disabled()
	}
	return &Snapshotter{
		provider:  provider,
		pacer:     p,
		backupDir: backupDir,
		now:       time.Now,
	}
}

// FetchAll retrieves every concrete track of a playlist in playlist order.
// Unavailable items (local files, episodes, removed tracks) are skipped.
// Pagination is fully drained; on any error no partial result is returned.
func (s *Snapshotter) FetchAll(ctx context.Context, playlistID string) (playlist.Snapshot, error) {
	if err := s.pacer.Wait(ctx); err != nil {
		return playlist.Snapshot{}, err
	}
	handle, err := s.provider.GetPlaylist(ctx, playlistID)
	if err != nil {
		return playlist.Snapshot{}, errors.Wrapf(err, "failed to get playlist %s", playlistID)
	}
	if handle.ID == "" {
		return playlist.Snapshot{}, apperr.NotFound(errors.Newf("playlist %s has no readable track collection", playlistID))
	}

	snap := playlist.Snapshot{
		ID:      handle.ID,
		Name:    handle.Name,
		TakenAt: s.now(),
		Tracks:  make([]track.Track, 0, handle.TrackTotal),
	}

	skipped := 0
	offset := 0
	for {
		if err := s.pacer.Wait(ctx); err != nil {
			return playlist.Snapshot{}, err
		}
		page, err := s.provider.GetPlaylistItems(ctx, handle.ID, offset, PageSize)
		if err != nil {
			return playlist.Snapshot{}, errors.Wrapf(err, "failed to get items of playlist %s at offset %d", handle.Name, offset)
		}

		for _, entry := range page.Entries {
			if entry.Kind != track.EntryTrack {
				skipped++
				continue
			}
			zlog.Debug().Msgf("%s: #%d %s - %s | ID: %s", handle.Name, len(snap.Tracks), firstArtist(entry.Track), entry.Track.Name, entry.Track.ID)
			snap.Tracks = append(snap.Tracks, entry.Track)
		}

		offset += len(page.Entries)
		if len(page.Entries) == 0 || offset >= page.Total {
			break
		}
	}

	zlog.Info().Msgf("For playlist %s got %d tracks (%d unavailable skipped)", handle.Name, len(snap.Tracks), skipped)
	return snap, nil
}

// Backup writes the snapshot as JSON to
// <backupDir>/<sanitized name>/<timestamp>_<playlist id>.json and returns the path.
// Existing files are never overwritten.
func (s *Snapshotter) Backup(snap playlist.Snapshot) (string, error) {
	if snap.ID == "" {
		return "", apperr.Argument(errors.New("snapshot has no playlist id"))
	}

	dir := filepath.Join(s.backupDir, SanitizeName(snap.Name))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create backup directory")
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode snapshot")
	}

	path := filepath.Join(dir, BackupFileName(s.now(), snap.ID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", errors.Wrap(err, "failed to create backup file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", errors.Wrap(err, "failed to write backup file")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close backup file")
	}

	zlog.Info().Msgf("Backed up %d tracks of %s to %s", len(snap.Tracks), snap.Name, path)
	return path, nil
}

// BackupFileName returns the backup file name for a playlist at time t.
func BackupFileName(t time.Time, playlistID string) string {
	return t.Format(backupTimeLayout) + "_" + playlistID + ".json"
}

// SanitizeName makes a playlist name usable as a single directory name.
func SanitizeName(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
	sanitized = strings.TrimSpace(sanitized)

	if sanitized == "" || sanitized == "." || sanitized == ".." {
		return "_"
	}
	return sanitized
}

func firstArtist(t track.Track) string {
	if len(t.Artists) == 0 {
		return "Unknown Artist"
	}
	return t.Artists[0]
}
