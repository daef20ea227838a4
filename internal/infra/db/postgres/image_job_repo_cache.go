package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/repository"
	"product-image-pipeline/internal/infra/metrics"
	red "product-image-pipeline/internal/infra/redis"
)

var _ repository.ImageJobRepository = (*imageJobRepoCacheDecorator)(nil)

const jobCacheName = "image_job"

// imageJobRepoCacheDecorator caches FindByID outside transactions. Every
// write drops the cached entry before delegating.
type imageJobRepoCacheDecorator struct {
	repository.ImageJobRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewImageJobRepoCacheDecorator(inner repository.ImageJobRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.ImageJobRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &imageJobRepoCacheDecorator{
		ImageJobRepository: inner,
		cache:              cache,
		ttl:                ttl,
		log:                logger,
	}
}

func jobKey(id model.JobID) string { return fmt.Sprintf("image_job:%s", id) }

func (d *imageJobRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id model.JobID) (*model.ImageJob, error) {
	// rows read inside a transaction must come from the database
	if tx != nil {
		return d.ImageJobRepository.FindByID(ctx, tx, id)
	}

	key := jobKey(id)
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var snap model.JobSnapshot
		if json.Unmarshal([]byte(val), &snap) == nil {
			if job, rerr := model.RestoreImageJob(snap); rerr == nil {
				metrics.IncCacheRequest(jobCacheName, metrics.CacheHit)
				return job, nil
			}
		}
		_ = d.cache.Del(ctx, key)
	case !red.IsMiss(err):
		metrics.IncCacheRequest(jobCacheName, metrics.CacheError)
		d.log.Warn().Err(err).Str("key", key).Msg("job cache read failed")
	}

	metrics.IncCacheRequest(jobCacheName, metrics.CacheMiss)
	job, err := d.ImageJobRepository.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(job.Snapshot()); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("key", key).Msg("job cache write failed")
		}
	}
	return job, nil
}

func (d *imageJobRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, job *model.ImageJob) error {
	d.invalidate(ctx, job.ID())
	return d.ImageJobRepository.Save(ctx, tx, job)
}

func (d *imageJobRepoCacheDecorator) Delete(ctx context.Context, tx repository.Tx, id model.JobID) error {
	d.invalidate(ctx, id)
	return d.ImageJobRepository.Delete(ctx, tx, id)
}

func (d *imageJobRepoCacheDecorator) UpdateStatus(ctx context.Context, tx repository.Tx, id model.JobID, status model.ProcessingStatus) error {
	d.invalidate(ctx, id)
	return d.ImageJobRepository.UpdateStatus(ctx, tx, id, status)
}

func (d *imageJobRepoCacheDecorator) invalidate(ctx context.Context, id model.JobID) {
	if err := d.cache.Del(ctx, jobKey(id)); err != nil {
		d.log.Warn().Err(err).Str("job_id", id.String()).Msg("job cache invalidation failed")
	}
}
