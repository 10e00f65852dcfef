// Package spotify provides a client for the Spotify API.
package spotify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/shufflebox/internal/domain/apperr"
	"github.com/osa030/shufflebox/internal/domain/playlist"
	"github.com/osa030/shufflebox/internal/domain/track"
)

// MaxItemsPerRequest is the Spotify limit for add/remove and page size.
const MaxItemsPerRequest = 100

// Scopes are the OAuth scopes shufflebox needs.
var Scopes = []string{
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistReadCollaborative,
	spotifyauth.ScopePlaylistModifyPublic,
	spotifyauth.ScopePlaylistModifyPrivate,
	spotifyauth.ScopeUserReadPrivate,
}

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	CredentialsPath string // Token file written by shufflebox-auth, also receives refreshed tokens
	Market          string
}

// New creates a new Spotify client.
// The refresh token comes from cfg.RefreshToken or, when empty, from the credentials file.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, apperr.Authentication(errors.New("spotify client id and secret are required"))
	}

	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	if token.RefreshToken == "" && cfg.CredentialsPath != "" {
		stored, err := LoadToken(cfg.CredentialsPath)
		if err != nil {
			return nil, apperr.Authentication(errors.Wrap(err, "no refresh token configured and credentials file unusable"))
		}
		token = stored
	}
	if token.RefreshToken == "" {
		return nil, apperr.Authentication(errors.New("spotify refresh token is required (run shufflebox-auth)"))
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyauth.AuthURL,
			TokenURL: spotifyauth.TokenURL,
		},
		Scopes: Scopes,
	}

	// Get HTTP client with auto-refresh capability; refreshed tokens are written back
	source := oauthCfg.TokenSource(ctx, token)
	if cfg.CredentialsPath != "" {
		source = newPersistingTokenSource(source, cfg.CredentialsPath, token)
	}
	httpClient := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, source))

	return newWithHTTPClient(httpClient, cfg.Market), nil
}

func newWithHTTPClient(httpClient *http.Client, market string, opts ...spotify.ClientOption) *Client {
	return &Client{
		client:     spotify.New(httpClient, opts...),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// CurrentUser returns the authenticated user's display name and ID.
// It doubles as a credentials check.
func (c *Client) CurrentUser(ctx context.Context) (string, string, error) {
	var user *spotify.PrivateUser
	err := c.retry(ctx, isRetryable, func() error {
		u, err := c.client.CurrentUser(ctx)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return "", "", errors.Wrap(classify(err), "failed to get current user")
	}
	return user.DisplayName, user.ID, nil
}

// GetPlaylist retrieves playlist metadata by ID, URL, or URI.
func (c *Client) GetPlaylist(ctx context.Context, playlistRef string) (playlist.Handle, error) {
	playlistID := extractPlaylistID(playlistRef)
	if playlistID == "" {
		return playlist.Handle{}, apperr.Argument(errors.New("invalid playlist URL"))
	}

	var result *spotify.FullPlaylist
	err := c.retry(ctx, isRetryable, func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(playlistID), spotify.Fields("id,name,tracks.total"))
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return playlist.Handle{}, errors.Wrap(classify(err), "failed to get playlist")
	}
	if result == nil {
		return playlist.Handle{}, apperr.NotFound(errors.Newf("playlist %s returned no data", playlistID))
	}

	return playlist.Handle{
		ID:         string(result.ID),
		Name:       result.Name,
		TrackTotal: int(result.Tracks.Total),
	}, nil
}

// GetPlaylistItems retrieves one page of playlist items.
// Items that are not concrete tracks are returned as unavailable entries.
func (c *Client) GetPlaylistItems(ctx context.Context, playlistID string, offset, limit int) (track.Page, error) {
	if limit <= 0 || limit > MaxItemsPerRequest {
		limit = MaxItemsPerRequest
	}

	opts := []spotify.RequestOption{spotify.Limit(limit), spotify.Offset(offset)}
	if c.market != "" {
		opts = append(opts, spotify.Market(c.market))
	}

	var page *spotify.PlaylistItemPage
	err := c.retry(ctx, isRetryable, func() error {
		p, err := c.client.GetPlaylistItems(ctx, spotify.ID(extractPlaylistID(playlistID)), opts...)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return track.Page{}, errors.Wrap(classify(err), "failed to get playlist items")
	}
	if page == nil {
		return track.Page{}, apperr.NotFound(errors.Newf("playlist %s has no track collection", playlistID))
	}

	entries := make([]track.Entry, 0, len(page.Items))
	for _, item := range page.Items {
		entries = append(entries, convertItem(item))
	}

	return track.Page{
		Entries: entries,
		Offset:  offset,
		Total:   int(page.Total),
	}, nil
}

// AddItems appends up to MaxItemsPerRequest tracks to a playlist.
// uris can be Spotify IDs, URLs, or URIs.
func (c *Client) AddItems(ctx context.Context, playlistID string, uris []string) error {
	ids, err := toTrackIDs(uris)
	if err != nil {
		return err
	}

	// A 5xx may arrive after the tracks were appended; resending would duplicate them.
	err = c.retry(ctx, isRateLimited, func() error {
		_, err := c.client.AddTracksToPlaylist(ctx, spotify.ID(extractPlaylistID(playlistID)), ids...)
		return err
	})
	if err != nil {
		return errors.Wrap(classify(err), "failed to add tracks to playlist")
	}
	return nil
}

// RemoveItems removes every occurrence of up to MaxItemsPerRequest tracks from a playlist.
func (c *Client) RemoveItems(ctx context.Context, playlistID string, uris []string) error {
	ids, err := toTrackIDs(uris)
	if err != nil {
		return err
	}

	err = c.retry(ctx, isRetryable, func() error {
		_, err := c.client.RemoveTracksFromPlaylist(ctx, spotify.ID(extractPlaylistID(playlistID)), ids...)
		return err
	})
	if err != nil {
		return errors.Wrap(classify(err), "failed to remove tracks from playlist")
	}
	return nil
}

// CurrentUserPlaylists lists every playlist owned or followed by the user.
func (c *Client) CurrentUserPlaylists(ctx context.Context) ([]playlist.Handle, error) {
	const limit = 50

	var handles []playlist.Handle
	offset := 0
	for {
		var page *spotify.SimplePlaylistPage
		err := c.retry(ctx, isRetryable, func() error {
			p, err := c.client.CurrentUsersPlaylists(ctx, spotify.Limit(limit), spotify.Offset(offset))
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(classify(err), "failed to list playlists")
		}

		for _, p := range page.Playlists {
			handles = append(handles, playlist.Handle{
				ID:         string(p.ID),
				Name:       p.Name,
				TrackTotal: int(p.Tracks.Total),
			})
		}

		offset += len(page.Playlists)
		if len(page.Playlists) == 0 || offset >= int(page.Total) {
			break
		}
	}

	zlog.Debug().Msgf("Listed %d playlists for current user", len(handles))
	return handles, nil
}

// convertItem converts a Spotify playlist item to a domain entry.
func convertItem(item spotify.PlaylistItem) track.Entry {
	// Only process tracks (exclude episodes and local files without an ID)
	t := item.Track.Track
	if t == nil || t.ID == "" || t.URI == "" {
		return track.Entry{Kind: track.EntryUnavailable}
	}

	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	return track.Entry{
		Kind: track.EntryTrack,
		Track: track.Track{
			ID:      string(t.ID),
			URI:     string(t.URI),
			Name:    t.Name,
			Artists: artists,
		},
	}
}

func toTrackIDs(uris []string) ([]spotify.ID, error) {
	if len(uris) > MaxItemsPerRequest {
		return nil, apperr.Argument(errors.Newf("%d items exceed the per-request limit of %d", len(uris), MaxItemsPerRequest))
	}

	ids := make([]spotify.ID, len(uris))
	for i, uri := range uris {
		id := extractTrackID(uri)
		if id == "" {
			return nil, apperr.Argument(errors.Newf("empty track reference at position %d", i))
		}
		ids[i] = spotify.ID(id)
	}
	return ids, nil
}

// classify marks err with the matching error kind.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return apperr.Authentication(err)
	}

	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized:
			return apperr.Authentication(err)
		case http.StatusNotFound:
			return apperr.NotFound(err)
		}
	}

	return apperr.Provider(err)
}

// retry retries an operation with linear backoff while retryable accepts the error.
func (c *Client) retry(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			zlog.Warn().Msgf("Retrying Spotify call after error (attempt %d/%d): %v", i+1, c.maxRetries, err)
			timer := time.NewTimer(c.retryDelay * time.Duration(i+1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return errors.WithSecondaryError(errors.Wrap(ctx.Err(), "retry interrupted"), lastErr)
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if isRateLimited(err) {
		return true
	}

	var apiErr spotify.Error
	if errors.As(err, &apiErr) && apiErr.Status >= http.StatusInternalServerError {
		return true
	}

	// Server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// isRateLimited reports whether the request was rejected before being applied.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var apiErr spotify.Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429")
}

// extractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func extractPlaylistID(input string) string {
	return extractID(input, "playlist")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	return extractID(input, "track")
}

// extractID handles spotify:<kind>:<id>, https://open.spotify.com[/intl-xx]/<kind>/<id>, and bare IDs.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)

	prefix := "spotify:" + kind + ":"
	if strings.HasPrefix(input, prefix) {
		return strings.TrimPrefix(input, prefix)
	}

	segment := "/" + kind + "/"
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, segment) {
		parts := strings.Split(input, segment)
		// Remove query parameters and trailing slashes
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	// Assume it's already an ID
	return input
}
