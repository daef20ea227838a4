package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/repository"
	"product-image-pipeline/internal/infra/logging"
	"product-image-pipeline/internal/usecase"
)

type ProcessorConfig struct {
	PollInterval time.Duration
	JobTimeout   time.Duration
	WithAI       bool
}

var _ usecase.ProcessPipelineUseCase = (*PipelineProcessor)(nil)

// PipelineProcessor polls for claimable jobs and runs the pipeline on the pool.
type PipelineProcessor struct {
	jobs     repository.ImageJobRepository
	pipeline usecase.ProcessPipelineUseCase
	locker   ClaimLocker
	cfg      ProcessorConfig
	log      *zerolog.Logger

	mu       sync.Mutex
	inFlight map[model.JobID]struct{}
}

func NewPipelineProcessor(
	jobs repository.ImageJobRepository,
	pipeline usecase.ProcessPipelineUseCase,
	locker ClaimLocker,
	cfg ProcessorConfig,
	logger *zerolog.Logger,
) *PipelineProcessor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 3 * time.Minute
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	l := logger.With().Str("component", "PipelineProcessor").Logger()
	return &PipelineProcessor{
		jobs:     jobs,
		pipeline: pipeline,
		locker:   locker,
		cfg:      cfg,
		log:      &l,
		inFlight: make(map[model.JobID]struct{}),
	}
}

// Start polls until ctx is done. Run it in a goroutine.
func (p *PipelineProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Dur("poll_interval", p.cfg.PollInterval).Msg("pipeline processor started")
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("pipeline processor stopping")
			return
		case <-ticker.C:
			p.Dispatch(ctx, pool)
		}
	}
}

// Dispatch submits every claimable job not already running here; it returns
// how many tasks were queued.
func (p *PipelineProcessor) Dispatch(ctx context.Context, pool *Pool) int {
	pending, err := p.jobs.FindPending(ctx, repository.NoTX, pool.Size()*2)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to fetch pending jobs")
		return 0
	}
	queued := 0
	for _, job := range pending {
		id := job.ID()
		if !p.markInFlight(id) {
			continue
		}
		err := pool.Submit(func(ctx context.Context) error {
			defer p.clearInFlight(id)
			return p.processOne(ctx, id)
		})
		if err != nil {
			p.clearInFlight(id)
			if errors.Is(err, ErrQueueFull) {
				break
			}
			p.log.Error().Err(err).Msg("submit failed")
			continue
		}
		queued++
	}
	return queued
}

func (p *PipelineProcessor) processOne(ctx context.Context, id model.JobID) error {
	res, err := p.Execute(ctx, id, p.cfg.WithAI)
	log := logging.With(logging.WithJobID(ctx, id.String()), p.log)
	if err != nil {
		var ise *domain.InvalidStateError
		switch {
		case errors.Is(err, domain.ErrLockNotAcquired):
			return nil
		case errors.As(err, &ise):
			// another instance finished or cancelled it first
			log.Debug().Err(err).Msg("job no longer claimable")
			return nil
		}
		return err
	}
	log.Info().Dur("elapsed", res.Elapsed).Msg("job processed")
	return nil
}

// Execute runs one job under the same claim the poller takes, so a run
// requested over HTTP never overlaps a worker on the same job. A held claim
// is reported as domain.ErrLockNotAcquired.
func (p *PipelineProcessor) Execute(ctx context.Context, id model.JobID, withAI bool) (*usecase.PipelineResult, error) {
	key := lockKey(id)
	// the claim outlives the run so a slow save does not let a second worker in
	token, err := p.locker.TryLock(ctx, key, p.cfg.JobTimeout+30*time.Second)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			p.log.Warn().Err(err).Str("job_id", id.String()).Msg("failed to release job claim")
		}
	}()

	runCtx, cancel := context.WithTimeout(logging.WithJobID(ctx, id.String()), p.cfg.JobTimeout)
	defer cancel()
	return p.pipeline.Execute(runCtx, id, withAI)
}

func (p *PipelineProcessor) markInFlight(id model.JobID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[id]; ok {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *PipelineProcessor) clearInFlight(id model.JobID) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

func lockKey(id model.JobID) string { return "pipeline:job:" + id.String() }
