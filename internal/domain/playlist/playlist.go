// Package playlist provides the Playlist domain entities.
package playlist

import (
	"regexp"
	"strings"
	"time"

	"github.com/osa030/shufflebox/internal/domain/track"
)

// Handle identifies a Spotify playlist without its tracks.
type Handle struct {
	ID         string // Spotify Playlist ID
	Name       string // Playlist name
	TrackTotal int    // Number of items reported by Spotify
}

// Snapshot is a point-in-time copy of a playlist's track listing.
type Snapshot struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	TakenAt time.Time     `json:"taken_at"`
	Tracks  []track.Track `json:"tracks"`
}

// TrackIDs returns all track IDs in the snapshot.
func (s *Snapshot) TrackIDs() []string {
	ids := make([]string, len(s.Tracks))
	for i, t := range s.Tracks {
		ids[i] = t.ID
	}
	return ids
}

// Managed wraps the snapshot tracks for a selection pass.
func (s *Snapshot) Managed() []track.ManagedTrack {
	return track.Manage(s.Tracks)
}

var idPattern = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)

// IsReference reports whether ref is a playlist ID, URI or URL rather than a
// playlist name.
func IsReference(ref string) bool {
	ref = strings.TrimSpace(ref)
	return strings.HasPrefix(ref, "spotify:playlist:") ||
		(strings.Contains(ref, "open.spotify.com/") && strings.Contains(ref, "/playlist/")) ||
		idPattern.MatchString(ref)
}
