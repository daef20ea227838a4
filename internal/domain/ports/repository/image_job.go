package repository

import (
	"context"

	"product-image-pipeline/internal/domain/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

type JobStats struct {
	Total    int                            `json:"total"`
	ByStatus map[model.ProcessingStatus]int `json:"byStatus"`
}

// ImageJobRepository persists jobs together with their versions.
// Save is an upsert that replaces the stored version set.
type ImageJobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.ImageJob) error
	FindByID(ctx context.Context, tx Tx, id model.JobID) (*model.ImageJob, error)
	FindAll(ctx context.Context, tx Tx, opts ListOptions) ([]*model.ImageJob, error)
	Delete(ctx context.Context, tx Tx, id model.JobID) error
	Exists(ctx context.Context, tx Tx, id model.JobID) (bool, error)
	FindByStatus(ctx context.Context, tx Tx, status model.ProcessingStatus) ([]*model.ImageJob, error)
	// FindPending returns PENDING and QUEUED jobs, oldest first.
	FindPending(ctx context.Context, tx Tx, limit int) ([]*model.ImageJob, error)
	FindByFileName(ctx context.Context, tx Tx, name string) ([]*model.ImageJob, error)
	UpdateStatus(ctx context.Context, tx Tx, id model.JobID, status model.ProcessingStatus) error
	GetStats(ctx context.Context, tx Tx) (JobStats, error)
}
