// Package track provides the Track domain entity.
package track

// Track represents a Spotify track entity.
// Contains only information retrieved from Spotify API and is never mutated after fetch.
type Track struct {
	ID      string   `json:"id"`      // Spotify Track ID (unique per recording)
	URI     string   `json:"uri"`     // Spotify URI used for add/remove calls
	Name    string   `json:"name"`    // Track name (display only)
	Artists []string `json:"artists"` // Artist names (display only)
}

// EntryKind tells whether a playlist item resolved to a concrete track.
type EntryKind int

const (
	EntryUnavailable EntryKind = iota // Local file, episode, or removed item
	EntryTrack                        // Concrete, addressable track
)

// String returns the string representation of the entry kind.
func (k EntryKind) String() string {
	switch k {
	case EntryTrack:
		return "track"
	case EntryUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Entry is a single playlist item as returned by the provider.
// Track is only meaningful when Kind is EntryTrack.
type Entry struct {
	Kind  EntryKind
	Track Track
}

// Page is one page of playlist items.
type Page struct {
	Entries []Entry
	Offset  int
	Total   int // Total number of items in the playlist
}

// ManagedTrack wraps a Track with per-operation selection state.
type ManagedTrack struct {
	Track
	PickWeight float64 // Known pick weight, 0 when the track has no record
	ShuffleKey int     // Random sort key, redrawn on every shuffle pass
}

// Manage wraps tracks for a single selection pass.
func Manage(tracks []Track) []ManagedTrack {
	managed := make([]ManagedTrack, len(tracks))
	for i, t := range tracks {
		managed[i] = ManagedTrack{Track: t}
	}
	return managed
}

// IDs returns the track IDs of managed tracks in order.
func IDs(tracks []ManagedTrack) []string {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}

// URIs returns the track URIs of managed tracks in order.
func URIs(tracks []ManagedTrack) []string {
	uris := make([]string, len(tracks))
	for i, t := range tracks {
		uris[i] = t.URI
	}
	return uris
}
