package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StaleJobFailer is the slice of the job use case the reaper drives.
type StaleJobFailer interface {
	FailStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// StuckJobReaper periodically fails jobs left in PROCESSING by a crashed
// worker so they can be restarted.
type StuckJobReaper struct {
	interval   time.Duration
	stuckAfter time.Duration
	jobs       StaleJobFailer
	log        *zerolog.Logger
}

func NewStuckJobReaper(interval, stuckAfter time.Duration, jobs StaleJobFailer, logger *zerolog.Logger) *StuckJobReaper {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "StuckJobReaper").Logger()
	return &StuckJobReaper{
		interval:   interval,
		stuckAfter: stuckAfter,
		jobs:       jobs,
		log:        &l,
	}
}

func (w *StuckJobReaper) Run(ctx context.Context) error {
	w.log.Info().Dur("stuck_after", w.stuckAfter).Msg("Starting stuck job reaper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stuck job reaper")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of jobs failed.
func (w *StuckJobReaper) RunOnce(ctx context.Context) int {
	n, err := w.jobs.FailStale(ctx, w.stuckAfter)
	if err != nil {
		w.log.Error().Err(err).Msg("stuck job sweep failed")
	}
	if n > 0 {
		w.log.Warn().Int("count", n).Msg("stuck jobs marked failed")
	}
	return n
}
