// File: internal/usecase/process_pipeline_uc.go
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
	"product-image-pipeline/internal/domain/ports/repository"
	"product-image-pipeline/internal/infra/logging"
)

const (
	// RecompressQuality is the single fallback quality used when a variant
	// is over its size ceiling.
	RecompressQuality  = 70
	recompressedPrefix = "compressed_"
)

// Compile-time check
var _ ProcessPipelineUseCase = (*processPipelineUC)(nil)

type PipelineResult struct {
	Job      *model.ImageJob
	Versions model.VersionSet
	Analysis *adapter.AnalysisResult
	Elapsed  time.Duration
}

type ProcessPipelineUseCase interface {
	Execute(ctx context.Context, id model.JobID, withAI bool) (*PipelineResult, error)
}

type processPipelineUC struct {
	jobs      repository.ImageJobRepository
	tm        repository.TransactionManager
	transform adapter.ImageTransformer
	storage   adapter.ObjectStorage
	analyzer  adapter.ImageAnalyzer
	bus       adapter.EventBus
	log       *zerolog.Logger
}

// NewProcessPipelineUseCase wires the orchestrator. analyzer may be nil.
func NewProcessPipelineUseCase(
	jobs repository.ImageJobRepository,
	tm repository.TransactionManager,
	transform adapter.ImageTransformer,
	storage adapter.ObjectStorage,
	analyzer adapter.ImageAnalyzer,
	bus adapter.EventBus,
	logger *zerolog.Logger,
) *processPipelineUC {
	return &processPipelineUC{
		jobs:      jobs,
		tm:        tm,
		transform: transform,
		storage:   storage,
		analyzer:  analyzer,
		bus:       busOrNop(bus),
		log:       logger,
	}
}

func (p *processPipelineUC) Execute(ctx context.Context, id model.JobID, withAI bool) (*PipelineResult, error) {
	defer logging.TraceDuration(p.log, "ProcessPipelineUC.Execute")()
	begin := time.Now()
	ctx = logging.WithJobID(ctx, id.String())
	log := logging.With(ctx, p.log)

	job, events, err := p.start(ctx, id)
	if err != nil {
		return nil, err
	}
	events.flush(ctx, p.bus)
	log.Info().Bool("ai", withAI).Msg("pipeline started")

	analysis, err := p.run(ctx, job, withAI, &events)
	if err != nil {
		return nil, p.fail(ctx, job, err, &events)
	}
	if err := p.complete(ctx, job, &events); err != nil {
		return nil, p.fail(ctx, job, err, &events)
	}

	elapsed := time.Since(begin)
	log.Info().Dur("elapsed", elapsed).Int("versions", job.Versions().Len()).Msg("pipeline completed")
	return &PipelineResult{
		Job:      job,
		Versions: job.Versions(),
		Analysis: analysis,
		Elapsed:  elapsed,
	}, nil
}

// start moves the job to PROCESSING inside one transaction, so two callers
// racing on the same job cannot both win. A PENDING job is promoted through
// QUEUED so every step follows the table.
func (p *processPipelineUC) start(ctx context.Context, id model.JobID) (*model.ImageJob, eventBuffer, error) {
	var (
		job    *model.ImageJob
		events eventBuffer
	)
	err := p.tm.WithTx(ctx, repository.TxOptions{Serializable: true}, func(ctx context.Context, tx repository.Tx) error {
		events = events[:0]
		j, err := p.jobs.FindByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewJobNotFoundError(id.String())
			}
			return fmt.Errorf("load job: %w", err)
		}
		status := j.Status()
		if !j.SourceReady() || (status != model.StatusPending && !status.CanTransitionTo(model.StatusProcessing)) {
			return domain.NewInvalidStateError(id.String(), status.String(), model.StatusProcessing.String())
		}
		if status == model.StatusPending {
			ev, err := j.TransitionTo(model.StatusQueued)
			if err != nil {
				return err
			}
			events.status(ev)
		}
		ev, err := j.TransitionTo(model.StatusProcessing)
		if err != nil {
			return err
		}
		events.status(ev)
		if err := p.jobs.Save(ctx, tx, j); err != nil {
			return fmt.Errorf("save job: %w", err)
		}
		job = j
		return nil
	})
	if err != nil {
		var de domain.Error
		if errors.As(err, &de) {
			return nil, nil, err
		}
		return nil, nil, domain.NewPipelineError(id.String(), err)
	}
	return job, events, nil
}

// complete persists COMPLETED only while the store still says PROCESSING.
// On failure the job keeps its last persisted status and no event is published.
func (p *processPipelineUC) complete(ctx context.Context, job *model.ImageJob, events *eventBuffer) error {
	ev := job.UpdateStatus(model.StatusCompleted)
	err := p.tm.WithTx(ctx, repository.TxOptions{Serializable: true}, func(ctx context.Context, tx repository.Tx) error {
		if err := p.stillProcessing(ctx, tx, job.ID()); err != nil {
			return err
		}
		if err := p.jobs.Save(ctx, tx, job); err != nil {
			return fmt.Errorf("save completed job: %w", err)
		}
		return nil
	})
	if err != nil {
		job.RestoreStatus(model.StatusProcessing)
		return err
	}
	events.status(ev)
	events.flush(ctx, p.bus)
	return nil
}

func (p *processPipelineUC) run(ctx context.Context, job *model.ImageJob, withAI bool, events *eventBuffer) (*adapter.AnalysisResult, error) {
	src, err := p.storage.Retrieve(ctx, job.OriginalPath())
	if err != nil {
		return nil, fmt.Errorf("retrieve source %s: %w", job.OriginalPath(), err)
	}

	analysis := p.analyze(ctx, job, src, withAI)
	var crop *model.CropRegion
	if analysis != nil && analysis.SuggestedCrop != nil && analysis.SuggestedCrop.Valid() {
		c := *analysis.SuggestedCrop
		crop = &c
	}

	for _, kind := range model.AllVariants() {
		// stop between variants, never in the middle of one
		if err := ctx.Err(); err != nil {
			return analysis, err
		}
		if err := p.stillProcessing(ctx, repository.NoTX, job.ID()); err != nil {
			return analysis, err
		}

		v, err := p.generate(ctx, job, kind, src, crop)
		if err != nil {
			return analysis, err
		}
		ev, err := job.AddVersion(v)
		if err != nil {
			return analysis, domain.NewVersionGenerationError(job.ID().String(), kind.String(), err)
		}
		events.version(ev)
		events.flush(ctx, p.bus)
	}
	return analysis, nil
}

// analyze never fails the run; a broken analyzer only costs the smart crop.
func (p *processPipelineUC) analyze(ctx context.Context, job *model.ImageJob, src []byte, withAI bool) *adapter.AnalysisResult {
	if !withAI || p.analyzer == nil || !p.analyzer.IsAvailable(ctx) {
		return nil
	}
	res, err := p.analyzer.Analyze(ctx, src, adapter.AnalysisRequest{
		MimeType: job.MimeType(),
		Brand:    job.Brand(),
		Product:  job.Product(),
	})
	if err != nil {
		logging.With(ctx, p.log).Warn().Err(err).Msg("image analysis failed, continuing without crop")
		return nil
	}
	return res
}

func (p *processPipelineUC) generate(ctx context.Context, job *model.ImageJob, kind model.VariantKind, src []byte, crop *model.CropRegion) (*model.ImageVersion, error) {
	jobID := job.ID().String()
	wrap := func(err error) error {
		return domain.NewVersionGenerationError(jobID, kind.String(), err)
	}

	cfg := kind.Config()
	out, err := p.transform.Process(ctx, src, adapter.TransformOptions{
		TargetWidth:  cfg.Resolution.Width(),
		TargetHeight: cfg.Resolution.Height(),
		Format:       cfg.Format,
		Quality:      cfg.Quality,
		Fit:          cfg.Fit,
		Background:   letterbox(job.Brand()),
		Extract:      crop,
	})
	if err != nil {
		return nil, wrap(fmt.Errorf("transform: %w", err))
	}

	name, err := model.EnterpriseFileName(job.AssetKey(), kind)
	if err != nil {
		return nil, wrap(err)
	}
	dir := path.Join(job.AssetKey(), kind.Directory())
	stored, err := p.storage.Store(ctx, out, dir, name.String())
	if err != nil {
		return nil, wrap(fmt.Errorf("store: %w", err))
	}

	v, err := model.NewImageVersion(model.NewImageVersionParams{
		JobID:       job.ID(),
		Kind:        kind,
		ByteLength:  int64(len(out)),
		StoragePath: stored,
		FileName:    name,
		ContentHash: contentHash(out),
	})
	if err != nil {
		return nil, wrap(err)
	}
	if v.IsWithinSizeLimit() {
		return v, nil
	}

	log := logging.With(ctx, p.log)
	log.Debug().Str("variant", kind.String()).Int("bytes", len(out)).Int64("limit", cfg.MaxBytes).Msg("variant over size ceiling, recompressing")
	small, err := p.transform.Compress(ctx, out, cfg.Format, RecompressQuality)
	if err != nil {
		return nil, wrap(fmt.Errorf("recompress: %w", err))
	}
	smallName, err := name.WithPrefix(recompressedPrefix)
	if err != nil {
		return nil, wrap(err)
	}
	stored, err = p.storage.Store(ctx, small, dir, smallName.String())
	if err != nil {
		return nil, wrap(fmt.Errorf("store recompressed: %w", err))
	}
	v, err = v.WithRecompressed(stored, int64(len(small)), RecompressQuality, contentHash(small))
	if err != nil {
		return nil, wrap(err)
	}
	if !v.IsWithinSizeLimit() {
		log.Warn().Str("variant", kind.String()).Int("bytes", len(small)).Int64("limit", cfg.MaxBytes).Msg("recompressed variant still over size ceiling")
	}
	return v, nil
}

// letterbox is the brand background, when the brand names one.
func letterbox(b *model.BrandContext) *string {
	if b == nil || strings.TrimSpace(b.Background) == "" {
		return nil
	}
	bg := strings.TrimSpace(b.Background)
	return &bg
}

// stillProcessing reports domain.ErrJobCancelled when the job was cancelled
// since this run started, and an invalid state error when anything else
// (the stale job reaper) moved it.
func (p *processPipelineUC) stillProcessing(ctx context.Context, tx repository.Tx, id model.JobID) error {
	current, err := p.jobs.FindByID(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	switch current.Status() {
	case model.StatusProcessing:
		return nil
	case model.StatusCancelled:
		return domain.ErrJobCancelled
	default:
		return domain.NewInvalidStateError(id.String(), current.Status().String(), model.StatusProcessing.String())
	}
}

// fail records the terminal state of an aborted run and returns the error
// handed to the caller. A job still PROCESSING in the store ends FAILED; one
// that was cancelled or reaped meanwhile keeps the stored status.
func (p *processPipelineUC) fail(ctx context.Context, job *model.ImageJob, cause error, events *eventBuffer) error {
	ctx = context.WithoutCancel(ctx)
	log := logging.With(ctx, p.log)
	jobID := job.ID().String()

	var de domain.Error
	if !errors.As(cause, &de) {
		cause = domain.NewPipelineError(jobID, cause)
	}

	var ev *model.JobStatusChanged
	err := p.tm.WithTx(ctx, repository.TxOptions{Serializable: true}, func(ctx context.Context, tx repository.Tx) error {
		ev = nil
		current, err := p.jobs.FindByID(ctx, tx, job.ID())
		if err != nil {
			return fmt.Errorf("reload job: %w", err)
		}
		job.RestoreStatus(current.Status())
		if current.Status() == model.StatusProcessing {
			ev = job.UpdateStatus(model.StatusFailed)
		}
		return p.jobs.Save(ctx, tx, job)
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to persist aborted job")
	} else {
		events.status(ev)
		events.flush(ctx, p.bus)
	}

	log.Error().Err(cause).Str("code", string(domain.CodeOf(cause))).Str("status", job.Status().String()).
		Int("versions", job.Versions().Len()).Msg("pipeline aborted")
	return cause
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
