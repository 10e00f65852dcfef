// Package job turns configured jobs into shuffle and merge workflows and runs them.
package job

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shufflebox/internal/app/shuffle"
	"github.com/osa030/shufflebox/internal/domain/apperr"
)

// Orchestrator is the workflow surface jobs drive.
type Orchestrator interface {
	ShuffleInPlace(ctx context.Context, req shuffle.ShuffleRequest) (shuffle.Result, error)
	Merge(ctx context.Context, req shuffle.MergeRequest) (shuffle.Result, error)
	Resolve(ctx context.Context, ref string) (string, error)
}

// Job is one configured unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context, orch Orchestrator) error
}

// SourceSettings is one merge source.
// Quota stays nil until defaulted, so an explicit 0 fails validation.
type SourceSettings struct {
	Playlist string `yaml:"playlist" mapstructure:"playlist" validate:"required"`
	Quota    *int   `yaml:"quota" mapstructure:"quota" default:"160" validate:"required,gte=1"`
}

// MergeSettings configures a merge job.
type MergeSettings struct {
	Destination          string           `yaml:"destination" mapstructure:"destination" validate:"required"`
	Sources              []SourceSettings `yaml:"sources" mapstructure:"sources" validate:"required,min=1,dive"`
	StrictQuota          bool             `yaml:"strict_quota" mapstructure:"strict_quota"`
	ExcludeAcrossSources bool             `yaml:"exclude_across_sources" mapstructure:"exclude_across_sources"`
}

// ShuffleSettings configures a shuffle job over several playlists.
type ShuffleSettings struct {
	Playlists       []string `yaml:"playlists" mapstructure:"playlists" validate:"required,min=1,dive,required"`
	AllowDuplicates bool     `yaml:"allow_duplicates" mapstructure:"allow_duplicates"`
}

// decodeSettings decodes, defaults and validates a settings map into out.
func decodeSettings(settings map[string]any, out any) error {
	if err := mapstructure.Decode(settings, out); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}

// MergeJob replaces a destination playlist with a weighted selection from its sources.
type MergeJob struct {
	name     string
	settings MergeSettings
}

// NewMergeJob creates a MergeJob from raw settings.
func NewMergeJob(name string, settings map[string]any) (*MergeJob, error) {
	var s MergeSettings
	if err := decodeSettings(settings, &s); err != nil {
		return nil, apperr.Argument(err)
	}
	zlog.Debug().Msgf("merge job %s config: %+v", name, s)
	return &MergeJob{name: name, settings: s}, nil
}

// Name returns the job name.
func (j *MergeJob) Name() string {
	return j.name
}

// Run resolves every playlist reference and performs the merge.
func (j *MergeJob) Run(ctx context.Context, orch Orchestrator) error {
	dest, err := orch.Resolve(ctx, j.settings.Destination)
	if err != nil {
		return errors.Wrap(err, "failed to resolve destination")
	}

	req := shuffle.MergeRequest{
		DestinationID:        dest,
		StrictQuota:          j.settings.StrictQuota,
		ExcludeAcrossSources: j.settings.ExcludeAcrossSources,
	}
	for _, src := range j.settings.Sources {
		id, err := orch.Resolve(ctx, src.Playlist)
		if err != nil {
			if apperr.IsFatal(err) {
				return err
			}
			zlog.Ctx(ctx).Warn().Err(err).Msgf("Skipping unresolvable source %s", src.Playlist)
			continue
		}
		req.Sources = append(req.Sources, shuffle.Source{PlaylistID: id, Quota: *src.Quota})
	}
	if len(req.Sources) == 0 {
		return apperr.Provider(errors.New("no source playlist could be resolved"))
	}

	result, err := orch.Merge(ctx, req)
	if err != nil {
		return err
	}
	zlog.Ctx(ctx).Info().Msgf("Merge finished: removed %d, added %d, %d backups", result.Removed, result.Added, len(result.BackupPaths))
	return nil
}

// ShuffleJob shuffles each listed playlist in place, one after another.
type ShuffleJob struct {
	name     string
	settings ShuffleSettings
}

// NewShuffleJob creates a ShuffleJob from raw settings.
func NewShuffleJob(name string, settings map[string]any) (*ShuffleJob, error) {
	var s ShuffleSettings
	if err := decodeSettings(settings, &s); err != nil {
		return nil, apperr.Argument(err)
	}
	zlog.Debug().Msgf("shuffle job %s config: %+v", name, s)
	return &ShuffleJob{name: name, settings: s}, nil
}

// Name returns the job name.
func (j *ShuffleJob) Name() string {
	return j.name
}

// Run shuffles every playlist. A failing playlist does not stop the others
// unless the failure is an authentication error.
func (j *ShuffleJob) Run(ctx context.Context, orch Orchestrator) error {
	var failed []string
	var firstErr error

	for _, ref := range j.settings.Playlists {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := j.shuffleOne(ctx, orch, ref)
		if err == nil {
			continue
		}
		if apperr.IsFatal(err) {
			return err
		}
		zlog.Ctx(ctx).Error().Err(err).Msgf("Failed to shuffle %s, continuing with the next playlist", ref)
		failed = append(failed, ref)
		if firstErr == nil {
			firstErr = err
		}
	}

	if len(failed) > 0 {
		return errors.Wrapf(firstErr, "%d of %d playlists failed to shuffle %v", len(failed), len(j.settings.Playlists), failed)
	}
	return nil
}

func (j *ShuffleJob) shuffleOne(ctx context.Context, orch Orchestrator, ref string) error {
	id, err := orch.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	_, err = orch.ShuffleInPlace(ctx, shuffle.ShuffleRequest{
		PlaylistID:      id,
		AllowDuplicates: j.settings.AllowDuplicates,
	})
	return err
}
