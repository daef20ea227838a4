// File: internal/usecase/upload_image_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
	"product-image-pipeline/internal/domain/ports/repository"
	"product-image-pipeline/internal/infra/logging"
)

// Compile-time check
var _ UploadImageUseCase = (*uploadImageUC)(nil)

// UploadImageInput carries either Data or SourceURL.
type UploadImageInput struct {
	FileName  string
	Size      int64
	MimeType  string
	Data      []byte
	SourceURL string
	Metadata  map[string]string
	Brand     *model.BrandContext
	Product   *model.ProductContext
}

type UploadImageUseCase interface {
	Execute(ctx context.Context, in UploadImageInput) (*model.ImageJob, error)
}

type uploadImageUC struct {
	jobs     repository.ImageJobRepository
	tm       repository.TransactionManager
	storage  adapter.ObjectStorage
	fetcher  adapter.SourceFetcher
	bus      adapter.EventBus
	maxBytes int64
	log      *zerolog.Logger
}

// NewUploadImageUseCase builds the ingestion use case. fetcher may be nil when
// URL uploads are not supported; maxBytes <= 0 means model.MaxSourceBytes.
func NewUploadImageUseCase(
	jobs repository.ImageJobRepository,
	tm repository.TransactionManager,
	storage adapter.ObjectStorage,
	fetcher adapter.SourceFetcher,
	bus adapter.EventBus,
	maxBytes int64,
	logger *zerolog.Logger,
) *uploadImageUC {
	if maxBytes <= 0 || maxBytes > model.MaxSourceBytes {
		maxBytes = model.MaxSourceBytes
	}
	return &uploadImageUC{
		jobs:     jobs,
		tm:       tm,
		storage:  storage,
		fetcher:  fetcher,
		bus:      busOrNop(bus),
		maxBytes: maxBytes,
		log:      logger,
	}
}

// Execute persists the job first and attaches the source once it is stored.
// Until then the job is not offered to workers.
func (u *uploadImageUC) Execute(ctx context.Context, in UploadImageInput) (*model.ImageJob, error) {
	defer logging.TraceDuration(u.log, "UploadImageUC.Execute")()

	if err := u.validate(in); err != nil {
		return nil, err
	}

	id := model.NewJobID()
	dir := path.Join(id.String(), "original")
	size := in.Size
	if n := int64(len(in.Data)); n > size {
		size = n
	}
	job, err := model.NewImageJob(model.NewImageJobParams{
		ID:           id,
		FileName:     in.FileName,
		OriginalPath: path.Join(dir, in.FileName),
		OriginalSize: size,
		MimeType:     in.MimeType,
		Metadata:     in.Metadata,
		Brand:        in.Brand,
		Product:      in.Product,
	})
	if err != nil {
		return nil, err
	}

	log := logging.With(logging.WithJobID(ctx, id.String()), u.log)
	if err := u.jobs.Save(ctx, repository.NoTX, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	data := in.Data
	if len(data) == 0 {
		data, _, err = u.fetcher.Fetch(ctx, in.SourceURL, u.maxBytes)
		if err != nil {
			log.Warn().Err(err).Str("url", in.SourceURL).Msg("source download failed")
			u.abandon(ctx, id)
			return nil, err
		}
	}

	stored, err := u.storage.Store(ctx, data, dir, job.FileName().String())
	if err != nil {
		log.Error().Err(err).Msg("failed to store source image")
		u.abandon(ctx, id)
		return nil, fmt.Errorf("store source: %w", err)
	}
	actual, err := model.NewFileSize(int64(len(data)))
	if err != nil {
		return nil, err
	}
	job, err = u.attach(ctx, id, stored, actual)
	if err != nil {
		log.Warn().Err(err).Msg("source stored but not attached")
		if derr := u.storage.Delete(context.WithoutCancel(ctx), stored); derr != nil {
			log.Warn().Err(derr).Str("path", stored).Msg("failed to remove orphaned source")
		}
		u.abandon(ctx, id)
		return nil, err
	}

	log.Info().Str("file", job.FileName().String()).Int64("bytes", actual.Bytes()).Msg("source image uploaded")
	return job, nil
}

// attach reloads the job inside a transaction so a cancel or delete that
// landed during the download is not overwritten.
func (u *uploadImageUC) attach(ctx context.Context, id model.JobID, stored string, size model.FileSize) (*model.ImageJob, error) {
	var job *model.ImageJob
	err := u.tm.WithTx(ctx, repository.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		j, err := u.jobs.FindByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewJobNotFoundError(id.String())
			}
			return fmt.Errorf("reload job: %w", err)
		}
		if err := j.AttachSource(stored, size); err != nil {
			return err
		}
		if err := u.jobs.Save(ctx, tx, j); err != nil {
			return fmt.Errorf("save job: %w", err)
		}
		job = j
		return nil
	})
	return job, err
}

// validate runs the name, size and type rules before anything is persisted.
func (u *uploadImageUC) validate(in UploadImageInput) error {
	var c domain.Collector
	_, err := model.NewFileName(in.FileName)
	c.Merge("fileName", err)
	size := in.Size
	if n := int64(len(in.Data)); n > size {
		size = n
	}
	if size > u.maxBytes {
		c.Add("size", domain.CodeFileTooLarge, fmt.Sprintf("must be at most %d bytes", u.maxBytes), size)
	}
	if size < 0 {
		c.Add("size", domain.CodeInvalidFileSize, "must not be negative", size)
	}
	if !model.IsAllowedMimeType(in.MimeType) {
		c.Add("mimeType", domain.CodeUnsupportedMimeType, "unsupported mime type", in.MimeType)
	}
	hasURL := strings.TrimSpace(in.SourceURL) != ""
	switch {
	case len(in.Data) == 0 && !hasURL:
		c.Add("data", domain.CodeMissingField, "either file bytes or a source url is required", nil)
	case len(in.Data) > 0 && hasURL:
		c.Add("sourceUrl", domain.CodeValidation, "must not be combined with file bytes", in.SourceURL)
	case hasURL && u.fetcher == nil:
		c.Add("sourceUrl", domain.CodeValidation, "url uploads are not enabled", in.SourceURL)
	}
	return c.Err()
}

// abandon cancels a job whose source never made it to storage. A job that
// someone else already moved on is left alone.
func (u *uploadImageUC) abandon(ctx context.Context, id model.JobID) {
	ctx = context.WithoutCancel(ctx)
	var events eventBuffer
	err := u.tm.WithTx(ctx, repository.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		job, err := u.jobs.FindByID(ctx, tx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if job.SourceReady() || !job.Status().CanTransitionTo(model.StatusCancelled) {
			return nil
		}
		ev, err := job.TransitionTo(model.StatusCancelled)
		if err != nil {
			return err
		}
		if err := u.jobs.Save(ctx, tx, job); err != nil {
			return err
		}
		events.status(ev)
		return nil
	})
	if err != nil {
		u.log.Error().Err(err).Str("job_id", id.String()).Msg("failed to cancel abandoned job")
		return
	}
	events.flush(ctx, u.bus)
}
