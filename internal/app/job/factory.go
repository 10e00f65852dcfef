package job

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shufflebox/internal/infra/config"
)

// NewJobsFromConfig creates the configured jobs in order.
func NewJobsFromConfig(cfg *config.Config) ([]Job, error) {
	jobs := make([]Job, 0, len(cfg.Jobs))

	for i, jcfg := range cfg.Jobs {
		var j Job
		var err error
		zlog.Debug().Msgf("creating job: index=%d type=%s name=%s settings=%+v", i+1, jcfg.Type, jcfg.Name, jcfg.Settings)
		switch jcfg.Type {
		case "merge":
			j, err = NewMergeJob(jcfg.Name, jcfg.Settings)

		case "shuffle":
			j, err = NewShuffleJob(jcfg.Name, jcfg.Settings)

		default:
			return nil, errors.Newf("unsupported job type: %s (job index %d)", jcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create job (index %d, type %s, name %s)", i, jcfg.Type, jcfg.Name)
		}

		jobs = append(jobs, j)
		zlog.Info().Msgf("registered job: index=%d type=%s name=%s", i+1, jcfg.Type, jcfg.Name)
	}

	return jobs, nil
}
