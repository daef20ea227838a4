package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/repository"
)

var _ repository.ImageJobRepository = (*imageJobRepo)(nil)

type imageJobRepo struct {
	db *sql.DB
	tm repository.TransactionManager
}

func NewImageJobRepo(db *sql.DB, tm repository.TransactionManager) *imageJobRepo {
	return &imageJobRepo{db: db, tm: tm}
}

const jobColumns = `id, file_name, original_size, original_path, source_ready, mime_type, status,
  metadata, brand, product, created_at, updated_at`

const versionColumns = `job_id, variant, width, height, file_size, file_path, file_name,
  format, quality, content_hash, recompressed, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func (r *imageJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.ImageJob) error {
	if tx == nil {
		return r.tm.WithTx(ctx, repository.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return r.save(ctx, tx, job)
		})
	}
	return r.save(ctx, tx, job)
}

func (r *imageJobRepo) save(ctx context.Context, tx repository.Tx, job *model.ImageJob) error {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	s := job.Snapshot()
	metadata, err := encodeJSON(s.Metadata, len(s.Metadata) > 0)
	if err != nil {
		return err
	}
	brand, err := encodeJSON(s.Brand, s.Brand != nil)
	if err != nil {
		return err
	}
	product, err := encodeJSON(s.Product, s.Product != nil)
	if err != nil {
		return err
	}

	_, err = ex.ExecContext(ctx, `
INSERT INTO image_jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  original_size = excluded.original_size,
  original_path = excluded.original_path,
  source_ready = excluded.source_ready,
  status = excluded.status,
  metadata = excluded.metadata,
  brand = excluded.brand,
  product = excluded.product,
  updated_at = excluded.updated_at`,
		s.ID, s.FileName, s.OriginalSize, s.OriginalPath, s.SourceReady, s.MimeType, string(s.Status),
		metadata, brand, product, s.CreatedAt.UnixMicro(), s.UpdatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("save job %s: %w", s.ID, err)
	}

	if _, err := ex.ExecContext(ctx, `DELETE FROM image_versions WHERE job_id = ?`, s.ID); err != nil {
		return fmt.Errorf("clear versions of %s: %w", s.ID, err)
	}
	for _, v := range s.Versions {
		_, err := ex.ExecContext(ctx, `
INSERT INTO image_versions (`+versionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.JobID, v.Variant.String(), v.Width, v.Height, v.FileSize, v.FilePath, v.FileName,
			string(v.Format), v.Quality, v.ContentHash, v.Recompressed, v.CreatedAt.UnixMicro())
		if err != nil {
			return fmt.Errorf("save version %s of %s: %w", v.Variant, s.ID, err)
		}
	}
	return nil
}

func (r *imageJobRepo) FindByID(ctx context.Context, tx repository.Tx, id model.JobID) (*model.ImageJob, error) {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return nil, err
	}
	row := ex.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM image_jobs WHERE id = ?`, id.String())
	s, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	jobs, err := r.attach(ctx, ex, []model.JobSnapshot{s})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

func (r *imageJobRepo) FindAll(ctx context.Context, tx repository.Tx, opts repository.ListOptions) ([]*model.ImageJob, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // no limit
	}
	return r.list(ctx, tx, `SELECT `+jobColumns+` FROM image_jobs ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, max(opts.Offset, 0))
}

func (r *imageJobRepo) Delete(ctx context.Context, tx repository.Tx, id model.JobID) error {
	if tx == nil {
		return r.tm.WithTx(ctx, repository.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return r.Delete(ctx, tx, id)
		})
	}
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM image_versions WHERE job_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete versions of %s: %w", id, err)
	}
	res, err := ex.ExecContext(ctx, `DELETE FROM image_jobs WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return requireRow(res)
}

func (r *imageJobRepo) Exists(ctx context.Context, tx repository.Tx, id model.JobID) (bool, error) {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return false, err
	}
	var n int
	if err := ex.QueryRowContext(ctx, `SELECT COUNT(1) FROM image_jobs WHERE id = ?`, id.String()).Scan(&n); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return n > 0, nil
}

func (r *imageJobRepo) FindByStatus(ctx context.Context, tx repository.Tx, status model.ProcessingStatus) ([]*model.ImageJob, error) {
	return r.list(ctx, tx, `SELECT `+jobColumns+` FROM image_jobs WHERE status = ? ORDER BY created_at, id`, string(status))
}

func (r *imageJobRepo) FindPending(ctx context.Context, tx repository.Tx, limit int) ([]*model.ImageJob, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, tx, `SELECT `+jobColumns+` FROM image_jobs WHERE status IN (?, ?) AND source_ready = 1 ORDER BY created_at, id LIMIT ?`,
		string(model.StatusPending), string(model.StatusQueued), limit)
}

func (r *imageJobRepo) FindByFileName(ctx context.Context, tx repository.Tx, name string) ([]*model.ImageJob, error) {
	return r.list(ctx, tx, `SELECT `+jobColumns+` FROM image_jobs WHERE file_name = ? ORDER BY created_at, id`, name)
}

func (r *imageJobRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id model.JobID, status model.ProcessingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update status %q: %w", status, domain.ErrInvalidArgument)
	}
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `UPDATE image_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().UnixMicro(), id.String())
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	return requireRow(res)
}

func (r *imageJobRepo) GetStats(ctx context.Context, tx repository.Tx) (repository.JobStats, error) {
	stats := repository.JobStats{ByStatus: map[model.ProcessingStatus]int{}}
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return stats, err
	}
	rows, err := ex.QueryContext(ctx, `SELECT status, COUNT(*) FROM image_jobs GROUP BY status`)
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

// list drains the job rows before loading versions; the pool has one connection.
func (r *imageJobRepo) list(ctx context.Context, tx repository.Tx, q string, args ...any) ([]*model.ImageJob, error) {
	ex, err := getExecutor(r.db, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, q, args...)
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
	return r.attach(ctx, ex, snaps)
}

func (r *imageJobRepo) attach(ctx context.Context, ex executor, snaps []model.JobSnapshot) ([]*model.ImageJob, error) {
	index := make(map[string]int, len(snaps))
	args := make([]any, len(snaps))
	for i, s := range snaps {
		index[s.ID] = i
		args[i] = s.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(snaps)), ",")
	rows, err := ex.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM image_versions WHERE job_id IN (`+placeholders+`)`, args...)
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

func scanJob(row scanner) (model.JobSnapshot, error) {
	var (
		s                          model.JobSnapshot
		status                     string
		metadata, brand, product   sql.NullString
		createdMicro, updatedMicro int64
	)
	err := row.Scan(&s.ID, &s.FileName, &s.OriginalSize, &s.OriginalPath, &s.SourceReady, &s.MimeType, &status,
		&metadata, &brand, &product, &createdMicro, &updatedMicro)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, domain.ErrNotFound
		}
		return s, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	s.Status = model.ProcessingStatus(status)
	s.CreatedAt = time.UnixMicro(createdMicro).UTC()
	s.UpdatedAt = time.UnixMicro(updatedMicro).UTC()
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &s.Metadata); err != nil {
			return s, fmt.Errorf("%w: metadata: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	if brand.Valid {
		s.Brand = &model.BrandContext{}
		if err := json.Unmarshal([]byte(brand.String), s.Brand); err != nil {
			return s, fmt.Errorf("%w: brand: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	if product.Valid {
		s.Product = &model.ProductContext{}
		if err := json.Unmarshal([]byte(product.String), s.Product); err != nil {
			return s, fmt.Errorf("%w: product: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return s, nil
}

func scanVersion(row scanner) (model.VersionSnapshot, error) {
	var (
		v               model.VersionSnapshot
		variant, format string
		createdMicro    int64
	)
	err := row.Scan(&v.JobID, &variant, &v.Width, &v.Height, &v.FileSize, &v.FilePath, &v.FileName,
		&format, &v.Quality, &v.ContentHash, &v.Recompressed, &createdMicro)
	if err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	kind, err := model.ParseVariantKind(variant)
	if err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	v.Variant = kind
	v.Format = model.ImageFormat(strings.ToUpper(format))
	v.CreatedAt = time.UnixMicro(createdMicro).UTC()
	return v, nil
}

func encodeJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
