// Package scheduler fires a task once a day at a fixed wall-clock time.
package scheduler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Task is run on every trigger.
type Task func(ctx context.Context) error

// Daily triggers at hour:minute in loc. Runs never overlap: the next
// trigger is computed after the previous run returns.
type Daily struct {
	hour   int
	minute int
	loc    *time.Location

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// NewDaily creates a daily trigger.
func NewDaily(hour, minute int, loc *time.Location) (*Daily, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, errors.Newf("invalid trigger time %02d:%02d", hour, minute)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Daily{
		hour:   hour,
		minute: minute,
		loc:    loc,
		now:    time.Now,
		wait:   sleep,
	}, nil
}

// Next returns the first trigger strictly after from.
func (d *Daily) Next(from time.Time) time.Time {
	local := from.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

// Run waits for each trigger and runs task until ctx is cancelled.
// Task errors are logged and do not stop the schedule.
func (d *Daily) Run(ctx context.Context, task Task) error {
	for {
		next := d.Next(d.now())
		waitDuration := next.Sub(d.now())
		zlog.Info().Msgf("waiting for next run: run_at=%s wait_duration=%v", next.Format(time.DateTime), waitDuration.Round(time.Second))

		if err := d.wait(ctx, waitDuration); err != nil {
			zlog.Info().Msg("scheduler stopped")
			return nil
		}

		zlog.Info().Msgf("trigger reached: run_at=%s", next.Format(time.DateTime))
		if err := task(ctx); err != nil {
			zlog.Error().Err(err).Msg("scheduled run failed")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
