// File: internal/usecase/job_uc.go
package usecase

import (
	"context"
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

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

// JobUseCase covers the job lifecycle outside of a pipeline run.
type JobUseCase interface {
	Get(ctx context.Context, id model.JobID) (*model.ImageJob, error)
	List(ctx context.Context, opts repository.ListOptions) ([]*model.ImageJob, error)
	ListByStatus(ctx context.Context, status model.ProcessingStatus) ([]*model.ImageJob, error)
	Stats(ctx context.Context) (repository.JobStats, error)
	Enqueue(ctx context.Context, id model.JobID) (*model.ImageJob, error)
	Cancel(ctx context.Context, id model.JobID) (*model.ImageJob, error)
	// Restart is the only way back from FAILED or CANCELLED; it drops the
	// attached versions so the next run produces all four again.
	Restart(ctx context.Context, id model.JobID) (*model.ImageJob, error)
	Delete(ctx context.Context, id model.JobID) error
	// FailStale moves jobs stuck in PROCESSING for longer than olderThan to FAILED.
	FailStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type jobUC struct {
	jobs    repository.ImageJobRepository
	tm      repository.TransactionManager
	storage adapter.ObjectStorage
	bus     adapter.EventBus
	log     *zerolog.Logger
}

func NewJobUseCase(
	jobs repository.ImageJobRepository,
	tm repository.TransactionManager,
	storage adapter.ObjectStorage,
	bus adapter.EventBus,
	logger *zerolog.Logger,
) *jobUC {
	return &jobUC{jobs: jobs, tm: tm, storage: storage, bus: busOrNop(bus), log: logger}
}

func (u *jobUC) Get(ctx context.Context, id model.JobID) (*model.ImageJob, error) {
	job, err := u.jobs.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewJobNotFoundError(id.String())
	}
	return job, err
}

func (u *jobUC) List(ctx context.Context, opts repository.ListOptions) ([]*model.ImageJob, error) {
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return u.jobs.FindAll(ctx, repository.NoTX, opts)
}

func (u *jobUC) ListByStatus(ctx context.Context, status model.ProcessingStatus) ([]*model.ImageJob, error) {
	if !status.Valid() {
		return nil, domain.NewValidationError(domain.Violation{
			Field: "status", Code: domain.CodeValidation, Message: "unknown processing status", Value: status,
		})
	}
	return u.jobs.FindByStatus(ctx, repository.NoTX, status)
}

func (u *jobUC) Stats(ctx context.Context) (repository.JobStats, error) {
	return u.jobs.GetStats(ctx, repository.NoTX)
}

func (u *jobUC) Enqueue(ctx context.Context, id model.JobID) (*model.ImageJob, error) {
	return u.transition(ctx, id, model.StatusQueued, nil)
}

func (u *jobUC) Cancel(ctx context.Context, id model.JobID) (*model.ImageJob, error) {
	return u.transition(ctx, id, model.StatusCancelled, nil)
}

func (u *jobUC) Restart(ctx context.Context, id model.JobID) (*model.ImageJob, error) {
	return u.transition(ctx, id, model.StatusPending, func(job *model.ImageJob) error {
		if !job.Status().IsRestartable() {
			return domain.NewInvalidStateError(id.String(), job.Status().String(), model.StatusPending.String())
		}
		job.ClearVersions()
		return nil
	})
}

// transition loads, mutates and saves the job inside one transaction, then
// publishes the change.
func (u *jobUC) transition(ctx context.Context, id model.JobID, next model.ProcessingStatus, before func(*model.ImageJob) error) (*model.ImageJob, error) {
	defer logging.TraceDuration(u.log, "JobUC.transition")()

	var (
		job    *model.ImageJob
		events eventBuffer
	)
	err := u.tm.WithTx(ctx, repository.TxOptions{Serializable: true}, func(ctx context.Context, tx repository.Tx) error {
		j, err := u.jobs.FindByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewJobNotFoundError(id.String())
			}
			return err
		}
		if j.Status() == next {
			return domain.NewInvalidStateError(id.String(), j.Status().String(), next.String())
		}
		if before != nil {
			if err := before(j); err != nil {
				return err
			}
		}
		ev, err := j.TransitionTo(next)
		if err != nil {
			return err
		}
		if err := u.jobs.Save(ctx, tx, j); err != nil {
			return fmt.Errorf("save job: %w", err)
		}
		events.status(ev)
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.flush(ctx, u.bus)
	logging.With(logging.WithJobID(ctx, id.String()), u.log).Info().Str("status", next.String()).Msg("job status changed")
	return job, nil
}

// Delete removes the record and every object the job wrote. Jobs being
// processed must be cancelled first.
func (u *jobUC) Delete(ctx context.Context, id model.JobID) error {
	job, err := u.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status() == model.StatusProcessing {
		return domain.NewInvalidStateError(id.String(), job.Status().String(), "DELETED")
	}

	log := logging.With(logging.WithJobID(ctx, id.String()), u.log)
	for _, p := range objectPaths(job) {
		if err := u.storage.Delete(ctx, p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("failed to delete stored object")
		}
	}
	if err := u.jobs.Delete(ctx, repository.NoTX, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	log.Info().Msg("job deleted")
	return nil
}

// objectPaths lists the source and every variant object, including the
// oversized original that a recompressed version replaced.
func objectPaths(job *model.ImageJob) []string {
	var paths []string
	if job.OriginalPath() != "" {
		paths = append(paths, job.OriginalPath())
	}
	for _, v := range job.Versions().All() {
		paths = append(paths, v.StoragePath())
		if v.Recompressed() {
			dir, file := path.Split(v.StoragePath())
			paths = append(paths, dir+strings.TrimPrefix(file, recompressedPrefix))
		}
	}
	return paths
}

func (u *jobUC) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	processing, err := u.jobs.FindByStatus(ctx, repository.NoTX, model.StatusProcessing)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	failed := 0
	for _, job := range processing {
		if job.UpdatedAt().After(cutoff) {
			continue
		}
		if err := u.failIfStale(ctx, job.ID(), cutoff); err != nil {
			if errors.Is(err, errNotStale) {
				continue
			}
			u.log.Warn().Err(err).Str("job_id", job.ID().String()).Msg("failed to mark stale job")
			continue
		}
		failed++
	}
	return failed, nil
}

// failIfStale re-checks the job inside the transaction so a run that just
// finished is not overwritten.
func (u *jobUC) failIfStale(ctx context.Context, id model.JobID, cutoff time.Time) error {
	var events eventBuffer
	err := u.tm.WithTx(ctx, repository.TxOptions{Serializable: true}, func(ctx context.Context, tx repository.Tx) error {
		job, err := u.jobs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if job.Status() != model.StatusProcessing || job.UpdatedAt().After(cutoff) {
			return errNotStale
		}
		ev, err := job.TransitionTo(model.StatusFailed)
		if err != nil {
			return err
		}
		events.status(ev)
		return u.jobs.Save(ctx, tx, job)
	})
	if err != nil {
		return err
	}
	events.flush(ctx, u.bus)
	return nil
}

var errNotStale = errors.New("job is no longer stale")
