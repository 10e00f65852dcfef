package spotify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// LoadToken reads an OAuth token from a credentials file.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read credentials file %s", path)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, errors.Wrapf(err, "failed to parse credentials file %s", path)
	}
	if token.RefreshToken == "" {
		return nil, errors.Newf("credentials file %s has no refresh token", path)
	}
	return &token, nil
}

// SaveToken writes an OAuth token to a credentials file readable only by the owner.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrap(err, "failed to create credentials directory")
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode token")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".credentials-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary credentials file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write credentials")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close credentials file")
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return errors.Wrap(err, "failed to restrict credentials file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "failed to replace credentials file")
}

// persistingTokenSource writes every newly issued token back to disk.
type persistingTokenSource struct {
	mu      sync.Mutex
	base    oauth2.TokenSource
	path    string
	refresh string
	access  string
}

func newPersistingTokenSource(base oauth2.TokenSource, path string, initial *oauth2.Token) *persistingTokenSource {
	return &persistingTokenSource{
		base:    base,
		path:    path,
		refresh: initial.RefreshToken,
		access:  initial.AccessToken,
	}
}

// Token implements oauth2.TokenSource.
func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken == s.access {
		return token, nil
	}

	// Spotify may omit the refresh token on refresh; keep the one we have
	saved := *token
	if saved.RefreshToken == "" {
		saved.RefreshToken = s.refresh
	}
	if err := SaveToken(s.path, &saved); err != nil {
		zlog.Warn().Err(err).Msgf("Failed to persist refreshed token to %s", s.path)
	} else {
		zlog.Debug().Msgf("Persisted refreshed token to %s", s.path)
	}

	s.access = saved.AccessToken
	s.refresh = saved.RefreshToken
	return token, nil
}
