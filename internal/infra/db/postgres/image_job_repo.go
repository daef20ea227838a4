package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/repository"
)

var _ repository.ImageJobRepository = (*imageJobRepo)(nil)

type imageJobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewImageJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *imageJobRepo {
	return &imageJobRepo{pool: pool, tm: tm}
}

const jobColumns = `id::text, file_name, original_size, original_path, source_ready, mime_type, status,
  metadata, brand, product, created_at, updated_at`

const versionColumns = `job_id::text, variant, width, height, file_size, file_path, file_name,
  format, quality, content_hash, recompressed, created_at`

// Save upserts the job row and replaces its versions. Without a tx it opens one.
func (r *imageJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.ImageJob) error {
	if tx == nil {
		return r.tm.WithTx(ctx, repository.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return r.save(ctx, tx, job)
		})
	}
	return r.save(ctx, tx, job)
}

func (r *imageJobRepo) save(ctx context.Context, tx repository.Tx, job *model.ImageJob) error {
	s := job.Snapshot()
	metadata, brand, product, err := marshalContexts(s)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO image_jobs (id, file_name, original_size, original_path, source_ready, mime_type, status,
  metadata, brand, product, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
  original_size = EXCLUDED.original_size,
  original_path = EXCLUDED.original_path,
  source_ready = EXCLUDED.source_ready,
  status = EXCLUDED.status,
  metadata = EXCLUDED.metadata,
  brand = EXCLUDED.brand,
  product = EXCLUDED.product,
  updated_at = EXCLUDED.updated_at;`
	if _, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.FileName, s.OriginalSize, s.OriginalPath, s.SourceReady, s.MimeType, string(s.Status),
		metadata, brand, product, s.CreatedAt, s.UpdatedAt); err != nil {
		return fmt.Errorf("save job %s: %w", s.ID, err)
	}

	if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM image_versions WHERE job_id = $1`, s.ID); err != nil {
		return fmt.Errorf("clear versions of %s: %w", s.ID, err)
	}
	const vq = `
INSERT INTO image_versions (job_id, variant, width, height, file_size, file_path, file_name,
  format, quality, content_hash, recompressed, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);`
	for _, v := range s.Versions {
		if _, err := execSQL(ctx, r.pool, tx, vq,
			v.JobID, v.Variant.String(), v.Width, v.Height, v.FileSize, v.FilePath, v.FileName,
			string(v.Format), v.Quality, v.ContentHash, v.Recompressed, v.CreatedAt); err != nil {
			return fmt.Errorf("save version %s of %s: %w", v.Variant, s.ID, err)
		}
	}
	return nil
}

// FindByID locks the row when called inside a transaction.
func (r *imageJobRepo) FindByID(ctx context.Context, tx repository.Tx, id model.JobID) (*model.ImageJob, error) {
	q := `SELECT ` + jobColumns + ` FROM image_jobs WHERE id = $1`
	if tx != nil {
		q += ` FOR UPDATE`
	}
	row, err := pickRow(ctx, r.pool, tx, q, id.String())
	if err != nil {
		return nil, err
	}
	s, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	jobs, err := r.attach(ctx, tx, []model.JobSnapshot{s})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

func (r *imageJobRepo) FindAll(ctx context.Context, tx repository.Tx, opts repository.ListOptions) ([]*model.ImageJob, error) {
	q := `SELECT ` + jobColumns + ` FROM image_jobs ORDER BY created_at DESC, id`
	args := []interface{}{}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return r.list(ctx, tx, q, args...)
}

func (r *imageJobRepo) Delete(ctx context.Context, tx repository.Tx, id model.JobID) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM image_jobs WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *imageJobRepo) Exists(ctx context.Context, tx repository.Tx, id model.JobID) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS (SELECT 1 FROM image_jobs WHERE id = $1)`, id.String())
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return ok, nil
}

func (r *imageJobRepo) FindByStatus(ctx context.Context, tx repository.Tx, status model.ProcessingStatus) ([]*model.ImageJob, error) {
	q := `SELECT ` + jobColumns + ` FROM image_jobs WHERE status = $1 ORDER BY created_at, id`
	return r.list(ctx, tx, q, string(status))
}

// FindPending skips rows locked by another claimer when run inside a transaction.
func (r *imageJobRepo) FindPending(ctx context.Context, tx repository.Tx, limit int) ([]*model.ImageJob, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + jobColumns + ` FROM image_jobs WHERE status IN ($1, $2) AND source_ready ORDER BY created_at, id LIMIT $3`
	if tx != nil {
		q += ` FOR UPDATE SKIP LOCKED`
	}
	return r.list(ctx, tx, q, string(model.StatusPending), string(model.StatusQueued), limit)
}

func (r *imageJobRepo) FindByFileName(ctx context.Context, tx repository.Tx, name string) ([]*model.ImageJob, error) {
	q := `SELECT ` + jobColumns + ` FROM image_jobs WHERE file_name = $1 ORDER BY created_at, id`
	return r.list(ctx, tx, q, name)
}

// UpdateStatus writes the status column only; the transition table is the caller's concern.
func (r *imageJobRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id model.JobID, status model.ProcessingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update status %q: %w", status, domain.ErrInvalidArgument)
	}
	tag, err := execSQL(ctx, r.pool, tx,
		`UPDATE image_jobs SET status = $2, updated_at = $3 WHERE id = $1`,
		id.String(), string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *imageJobRepo) GetStats(ctx context.Context, tx repository.Tx) (repository.JobStats, error) {
	stats := repository.JobStats{ByStatus: map[model.ProcessingStatus]int{}}
	rows, err := queryRows(ctx, r.pool, tx, `SELECT status, COUNT(*) FROM image_jobs GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, domain.ErrReadDatabaseRow
		}
		stats.ByStatus[model.ProcessingStatus(status)] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

func (r *imageJobRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.ImageJob, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	var snaps []model.JobSnapshot
	for rows.Next() {
		s, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snaps = append(snaps, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return r.attach(ctx, tx, snaps)
}

// attach loads the versions of every snapshot in one query and restores the jobs.
func (r *imageJobRepo) attach(ctx context.Context, tx repository.Tx, snaps []model.JobSnapshot) ([]*model.ImageJob, error) {
	ids := make([]string, len(snaps))
	index := make(map[string]int, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID
		index[s.ID] = i
	}
	rows, err := queryRows(ctx, r.pool, tx,
		`SELECT `+versionColumns+` FROM image_versions WHERE job_id = ANY($1::text[]::uuid[])`, ids)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		i := index[v.JobID]
		snaps[i].Versions = append(snaps[i].Versions, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*model.ImageJob, 0, len(snaps))
	for _, s := range snaps {
		job, err := model.RestoreImageJob(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, job)
	}
	return out, nil
}

func scanJob(row pgx.Row) (model.JobSnapshot, error) {
	var s model.JobSnapshot
	var status string
	var metadata, brand, product []byte
	err := row.Scan(&s.ID, &s.FileName, &s.OriginalSize, &s.OriginalPath, &s.SourceReady, &s.MimeType, &status,
		&metadata, &brand, &product, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, domain.ErrNotFound
		}
		return s, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	s.Status = model.ProcessingStatus(status)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if err := unmarshalContexts(&s, metadata, brand, product); err != nil {
		return s, err
	}
	return s, nil
}

func scanVersion(row pgx.Row) (model.VersionSnapshot, error) {
	var v model.VersionSnapshot
	var variant, format string
	err := row.Scan(&v.JobID, &variant, &v.Width, &v.Height, &v.FileSize, &v.FilePath, &v.FileName,
		&format, &v.Quality, &v.ContentHash, &v.Recompressed, &v.CreatedAt)
	if err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	kind, err := model.ParseVariantKind(variant)
	if err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	v.Variant = kind
	v.Format = model.ImageFormat(strings.ToUpper(format))
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

// marshalContexts encodes the optional JSONB columns; empty values become NULL.
func marshalContexts(s model.JobSnapshot) (metadata, brand, product []byte, err error) {
	if len(s.Metadata) > 0 {
		if metadata, err = json.Marshal(s.Metadata); err != nil {
			return nil, nil, nil, fmt.Errorf("encode metadata: %w", err)
		}
	}
	if s.Brand != nil {
		if brand, err = json.Marshal(s.Brand); err != nil {
			return nil, nil, nil, fmt.Errorf("encode brand: %w", err)
		}
	}
	if s.Product != nil {
		if product, err = json.Marshal(s.Product); err != nil {
			return nil, nil, nil, fmt.Errorf("encode product: %w", err)
		}
	}
	return metadata, brand, product, nil
}

func unmarshalContexts(s *model.JobSnapshot, metadata, brand, product []byte) error {
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return fmt.Errorf("%w: metadata: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	if len(brand) > 0 {
		s.Brand = &model.BrandContext{}
		if err := json.Unmarshal(brand, s.Brand); err != nil {
			return fmt.Errorf("%w: brand: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	if len(product) > 0 {
		s.Product = &model.ProductContext{}
		if err := json.Unmarshal(product, s.Product); err != nil {
			return fmt.Errorf("%w: product: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return nil
}
