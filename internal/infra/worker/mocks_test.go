//go:build !integration

package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/repository"
	"product-image-pipeline/internal/usecase"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// pendingRepo serves FindPending from a fixed list.
type pendingRepo struct {
	repository.ImageJobRepository
	pending []*model.ImageJob
	err     error
}

func (r *pendingRepo) FindPending(ctx context.Context, tx repository.Tx, limit int) ([]*model.ImageJob, error) {
	if r.err != nil {
		return nil, r.err
	}
	if limit > 0 && len(r.pending) > limit {
		return r.pending[:limit], nil
	}
	return r.pending, nil
}

type fakePipeline struct {
	mu      sync.Mutex
	runs    map[model.JobID]int
	release chan struct{}
	err     error
	started chan model.JobID
	sawAI   bool
	timeout time.Duration
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{runs: map[model.JobID]int{}, started: make(chan model.JobID, 16)}
}

func (f *fakePipeline) Execute(ctx context.Context, id model.JobID, withAI bool) (*usecase.PipelineResult, error) {
	f.mu.Lock()
	f.runs[id]++
	f.sawAI = withAI
	if dl, ok := ctx.Deadline(); ok {
		f.timeout = time.Until(dl)
	}
	release := f.release
	f.mu.Unlock()
	f.started <- id
	if release != nil {
		<-release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.PipelineResult{}, nil
}

func (f *fakePipeline) count(id model.JobID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id]
}

// busyLocker refuses every claim.
type busyLocker struct{}

func (busyLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", domain.ErrLockNotAcquired
}
func (busyLocker) Unlock(ctx context.Context, key, token string) error { return nil }

func newPendingJob() *model.ImageJob {
	job, err := model.NewImageJob(model.NewImageJobParams{
		FileName:     "shoe.jpg",
		OriginalPath: "x/original/shoe.jpg",
		OriginalSize: 10,
		MimeType:     "image/jpeg",
	})
	if err != nil {
		panic(err)
	}
	return job
}
