//go:build !integration

package postgres

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/repository"
	red "product-image-pipeline/internal/infra/redis"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// mockInnerJobRepo embeds the interface so tests only stub what they call.
type mockInnerJobRepo struct {
	repository.ImageJobRepository
	FindByIDFunc     func(ctx context.Context, tx repository.Tx, id model.JobID) (*model.ImageJob, error)
	SaveFunc         func(ctx context.Context, tx repository.Tx, job *model.ImageJob) error
	DeleteFunc       func(ctx context.Context, tx repository.Tx, id model.JobID) error
	UpdateStatusFunc func(ctx context.Context, tx repository.Tx, id model.JobID, status model.ProcessingStatus) error
	findCalls        int
}

func (m *mockInnerJobRepo) FindByID(ctx context.Context, tx repository.Tx, id model.JobID) (*model.ImageJob, error) {
	m.findCalls++
	if m.FindByIDFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.ImageJob) error {
	return m.SaveFunc(ctx, tx, job)
}
func (m *mockInnerJobRepo) Delete(ctx context.Context, tx repository.Tx, id model.JobID) error {
	return m.DeleteFunc(ctx, tx, id)
}
func (m *mockInnerJobRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id model.JobID, status model.ProcessingStatus) error {
	return m.UpdateStatusFunc(ctx, tx, id, status)
}

// mockRedisClient is a map-backed RedisClient.
type mockRedisClient struct {
	data    map[string]string
	deleted []string
	getErr  error
}

var _ red.RedisClient = (*mockRedisClient)(nil)

func newMockRedis() *mockRedisClient { return &mockRedisClient{data: map[string]string{}} }

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return nil
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	m.deleted = append(m.deleted, keys...)
	return nil
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, nil
}
func (m *mockRedisClient) Close() error { return nil }
