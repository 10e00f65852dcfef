package job

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shufflebox/internal/domain/apperr"
)

// Report summarizes one run over the configured jobs.
type Report struct {
	RunID     string
	Succeeded []string
	Failed    []string
	Aborted   bool
}

// Runner executes jobs sequentially. A failed job is logged and the run
// continues, except for authentication failures which abort the run.
type Runner struct {
	orch Orchestrator
	jobs []Job
}

// NewRunner creates a Runner.
func NewRunner(orch Orchestrator, jobs []Job) *Runner {
	return &Runner{orch: orch, jobs: jobs}
}

// Jobs returns the jobs in run order.
func (r *Runner) Jobs() []Job {
	return r.jobs
}

// Run executes every job, or only the named ones when names is non-empty.
// Each run gets a fresh run_id attached to every log line of its jobs.
func (r *Runner) Run(ctx context.Context, names ...string) (Report, error) {
	selected, err := r.selectJobs(names)
	if err != nil {
		return Report{}, err
	}

	report := Report{RunID: uuid.NewString()}
	runLogger := zlog.With().Str("run_id", report.RunID).Logger()
	runLogger.Info().Msgf("Starting run with %d jobs", len(selected))
	start := time.Now()

	for _, j := range selected {
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			return report, errors.Wrap(err, "run cancelled")
		}

		jobLogger := runLogger.With().Str("job", j.Name()).Logger()
		jobCtx := jobLogger.WithContext(ctx)

		jobLogger.Info().Msg("Job started")
		if err := j.Run(jobCtx, r.orch); err != nil {
			report.Failed = append(report.Failed, j.Name())
			jobLogger.Error().Err(err).Msg("Job failed")
			if apperr.IsFatal(err) {
				report.Aborted = true
				return report, errors.Wrapf(err, "run %s aborted by job %s", report.RunID, j.Name())
			}
			continue
		}
		report.Succeeded = append(report.Succeeded, j.Name())
		jobLogger.Info().Msg("Job finished")
	}

	runLogger.Info().Msgf("Run finished in %s: %d succeeded, %d failed", time.Since(start).Round(time.Millisecond), len(report.Succeeded), len(report.Failed))
	if len(report.Failed) > 0 {
		return report, errors.Newf("%d of %d jobs failed: %v", len(report.Failed), len(selected), report.Failed)
	}
	return report, nil
}

func (r *Runner) selectJobs(names []string) ([]Job, error) {
	if len(names) == 0 {
		return r.jobs, nil
	}

	byName := make(map[string]Job, len(r.jobs))
	for _, j := range r.jobs {
		byName[j.Name()] = j
	}

	selected := make([]Job, 0, len(names))
	for _, name := range names {
		j, ok := byName[name]
		if !ok {
			return nil, apperr.Argument(errors.Newf("unknown job: %s", name))
		}
		selected = append(selected, j)
	}
	return selected, nil
}
