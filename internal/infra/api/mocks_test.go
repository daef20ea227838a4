package api

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

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newJob(name string) *model.ImageJob {
	id := model.NewJobID()
	job, err := model.NewImageJob(model.NewImageJobParams{
		ID:           id,
		FileName:     name,
		OriginalPath: id.String() + "/original/" + name,
		OriginalSize: 1024,
		MimeType:     "image/jpeg",
	})
	if err != nil {
		panic(err)
	}
	return job
}

type fakeUploads struct {
	mu  sync.Mutex
	got []usecase.UploadImageInput
	err error
}

func (f *fakeUploads) Execute(ctx context.Context, in usecase.UploadImageInput) (*model.ImageJob, error) {
	f.mu.Lock()
	f.got = append(f.got, in)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return newJob(in.FileName), nil
}

func (f *fakeUploads) last() usecase.UploadImageInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

type fakeJobs struct {
	jobs     map[string]*model.ImageJob
	lastList repository.ListOptions
	deleted  []model.JobID
}

func newFakeJobs(jobs ...*model.ImageJob) *fakeJobs {
	f := &fakeJobs{jobs: make(map[string]*model.ImageJob)}
	for _, j := range jobs {
		f.jobs[j.ID().String()] = j
	}
	return f
}

func (f *fakeJobs) Get(ctx context.Context, id model.JobID) (*model.ImageJob, error) {
	j, ok := f.jobs[id.String()]
	if !ok {
		return nil, domain.NewJobNotFoundError(id.String())
	}
	return j, nil
}

func (f *fakeJobs) List(ctx context.Context, opts repository.ListOptions) ([]*model.ImageJob, error) {
	f.lastList = opts
	out := make([]*model.ImageJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobs) ListByStatus(ctx context.Context, status model.ProcessingStatus) ([]*model.ImageJob, error) {
	var out []*model.ImageJob
	for _, j := range f.jobs {
		if j.Status() == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) Stats(ctx context.Context) (repository.JobStats, error) {
	st := repository.JobStats{ByStatus: map[model.ProcessingStatus]int{}}
	for _, j := range f.jobs {
		st.Total++
		st.ByStatus[j.Status()]++
	}
	return st, nil
}

func (f *fakeJobs) Enqueue(ctx context.Context, id model.JobID) (*model.ImageJob, error) {
	return f.move(id, model.StatusQueued)
}

func (f *fakeJobs) Cancel(ctx context.Context, id model.JobID) (*model.ImageJob, error) {
	return f.move(id, model.StatusCancelled)
}

func (f *fakeJobs) Restart(ctx context.Context, id model.JobID) (*model.ImageJob, error) {
	return f.move(id, model.StatusPending)
}

func (f *fakeJobs) move(id model.JobID, next model.ProcessingStatus) (*model.ImageJob, error) {
	j, err := f.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	if _, err := j.TransitionTo(next); err != nil {
		return nil, err
	}
	return j, nil
}

func (f *fakeJobs) Delete(ctx context.Context, id model.JobID) error {
	if _, ok := f.jobs[id.String()]; !ok {
		return domain.NewJobNotFoundError(id.String())
	}
	delete(f.jobs, id.String())
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeJobs) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

type fakePipeline struct {
	jobs   *fakeJobs
	withAI []bool
	err    error
}

func (f *fakePipeline) Execute(ctx context.Context, id model.JobID, withAI bool) (*usecase.PipelineResult, error) {
	f.withAI = append(f.withAI, withAI)
	if f.err != nil {
		return nil, f.err
	}
	j, err := f.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &usecase.PipelineResult{Job: j, Versions: j.Versions(), Elapsed: 1500 * time.Millisecond}, nil
}

type fakeStorage struct{}

func (fakeStorage) Store(ctx context.Context, data []byte, directory, fileName string) (string, error) {
	return directory + "/" + fileName, nil
}
func (fakeStorage) Retrieve(ctx context.Context, path string) ([]byte, error) { return nil, domain.ErrNotFound }
func (fakeStorage) Delete(ctx context.Context, path string) error             { return nil }
func (fakeStorage) Exists(ctx context.Context, path string) (bool, error)     { return false, nil }
func (fakeStorage) PublicURL(path string) string                              { return "http://cdn.test/" + path }
func (fakeStorage) List(ctx context.Context, directory string) ([]string, error) {
	return nil, nil
}

type fakeLimiter struct {
	allowed int
	calls   int
	keys    []string
	err     error
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.calls++
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	return f.calls <= f.allowed, nil
}
