// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
	"product-image-pipeline/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memJobRepo keeps snapshots so tests observe what was persisted, not the
// live aggregate held by the use case.
type memJobRepo struct {
	mu      sync.RWMutex
	store   map[string]model.JobSnapshot
	saves   int
	saveErr error
	// failOn makes Save fail for jobs in that status only.
	failOn model.ProcessingStatus
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]model.JobSnapshot)}
}

func (m *memJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.ImageJob) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.failOn != "" && job.Status() == m.failOn {
		return errors.New("db down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.store[job.ID().String()] = job.Snapshot()
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id model.JobID) (*model.ImageJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[id.String()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return model.RestoreImageJob(s)
}

func (m *memJobRepo) all() []*model.ImageJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.ImageJob, 0, len(m.store))
	for _, s := range m.store {
		j, err := model.RestoreImageJob(s)
		if err != nil {
			panic(err)
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt().Before(out[k].CreatedAt()) })
	return out
}

func (m *memJobRepo) FindAll(ctx context.Context, tx repository.Tx, opts repository.ListOptions) ([]*model.ImageJob, error) {
	all := m.all()
	if opts.Offset >= len(all) {
		return nil, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (m *memJobRepo) Delete(ctx context.Context, tx repository.Tx, id model.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id.String()]; !ok {
		return domain.ErrNotFound
	}
	delete(m.store, id.String())
	return nil
}

func (m *memJobRepo) Exists(ctx context.Context, tx repository.Tx, id model.JobID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.store[id.String()]
	return ok, nil
}

func (m *memJobRepo) FindByStatus(ctx context.Context, tx repository.Tx, status model.ProcessingStatus) ([]*model.ImageJob, error) {
	var out []*model.ImageJob
	for _, j := range m.all() {
		if j.Status() == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJobRepo) FindPending(ctx context.Context, tx repository.Tx, limit int) ([]*model.ImageJob, error) {
	var out []*model.ImageJob
	for _, j := range m.all() {
		if j.Status().IsClaimable() && j.SourceReady() {
			out = append(out, j)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobRepo) FindByFileName(ctx context.Context, tx repository.Tx, name string) ([]*model.ImageJob, error) {
	var out []*model.ImageJob
	for _, j := range m.all() {
		if j.FileName().String() == name {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJobRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id model.JobID, status model.ProcessingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id.String()]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	m.store[id.String()] = s
	return nil
}

func (m *memJobRepo) GetStats(ctx context.Context, tx repository.Tx) (repository.JobStats, error) {
	stats := repository.JobStats{ByStatus: map[model.ProcessingStatus]int{}}
	for _, j := range m.all() {
		stats.Total++
		stats.ByStatus[j.Status()]++
	}
	return stats, nil
}

func (m *memJobRepo) snapshot(id model.JobID) (model.JobSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[id.String()]
	return s, ok
}

// mockTxManager runs fn without a real transaction.
type mockTxManager struct{}

func (mockTxManager) WithTx(ctx context.Context, opts repository.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

type memStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	storeErr error
	deleted  []string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Store(ctx context.Context, data []byte, directory, fileName string) (string, error) {
	if s.storeErr != nil {
		return "", s.storeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := path.Join(directory, fileName)
	s.objects[p] = append([]byte(nil), data...)
	return p, nil
}

func (s *memStorage) Retrieve(ctx context.Context, p string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (s *memStorage) Delete(ctx context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, p)
	s.deleted = append(s.deleted, p)
	return nil
}

func (s *memStorage) Exists(ctx context.Context, p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[p]
	return ok, nil
}

func (s *memStorage) PublicURL(p string) string { return "http://cdn.test/" + p }

func (s *memStorage) List(ctx context.Context, directory string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.objects {
		if strings.HasPrefix(p, directory+"/") {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// fakeTransformer returns zero-filled output sized per target width.
type fakeTransformer struct {
	mu            sync.Mutex
	sizes         map[int]int
	compressSizes map[int]int
	failWidth     int
	onProcess     func(opts adapter.TransformOptions)
	calls         []adapter.TransformOptions
	compressCalls int
}

func newFakeTransformer() *fakeTransformer {
	return &fakeTransformer{sizes: map[int]int{}, compressSizes: map[int]int{}}
}

func (f *fakeTransformer) Process(ctx context.Context, src []byte, opts adapter.TransformOptions) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	hook := f.onProcess
	f.mu.Unlock()
	if hook != nil {
		hook(opts)
	}
	if f.failWidth != 0 && opts.TargetWidth == f.failWidth {
		return nil, errors.New("decoder exploded")
	}
	n := f.sizes[opts.TargetWidth]
	if n == 0 {
		n = 1000
	}
	return make([]byte, n), nil
}

func (f *fakeTransformer) Compress(ctx context.Context, src []byte, format model.ImageFormat, quality int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compressCalls++
	if quality != RecompressQuality {
		return nil, fmt.Errorf("unexpected quality %d", quality)
	}
	n, ok := f.compressSizes[len(src)]
	if !ok {
		n = len(src) / 2
	}
	return make([]byte, n), nil
}

func (f *fakeTransformer) GetInfo(ctx context.Context, src []byte) (adapter.ImageInfo, error) {
	return adapter.ImageInfo{Width: 4000, Height: 3000, Format: "jpeg", Size: int64(len(src))}, nil
}

type fakeAnalyzer struct {
	result    *adapter.AnalysisResult
	err       error
	available bool
	calls     int
	lastReq   adapter.AnalysisRequest
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, image []byte, req adapter.AnalysisRequest) (*adapter.AnalysisResult, error) {
	f.calls++
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeAnalyzer) IsAvailable(ctx context.Context) bool { return f.available }

type fakeFetcher struct {
	data []byte
	err  error
	// during is called while the download is in flight.
	during func()
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, maxBytes int64) ([]byte, string, error) {
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, "image/jpeg", nil
}

// recordingBus keeps every published event in order.
type recordingBus struct {
	mu     sync.Mutex
	events []model.Event
}

func (b *recordingBus) Publish(ctx context.Context, events ...model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
}

func (b *recordingBus) Subscribe(h model.EventHandler, kinds ...model.EventKind) adapter.Subscription {
	return 0
}

func (b *recordingBus) Unsubscribe(adapter.Subscription) {}

func (b *recordingBus) statuses() []model.ProcessingStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.ProcessingStatus
	for _, e := range b.events {
		if sc, ok := e.(model.JobStatusChanged); ok {
			out = append(out, sc.Current)
		}
	}
	return out
}

func (b *recordingBus) count(kind model.EventKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}
