package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"product-image-pipeline/internal/domain"
)

// ClaimLocker serializes pipeline runs of one job across workers.
// The redis locker satisfies it for multi-instance deployments.
type ClaimLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

var _ ClaimLocker = (*LocalLocker)(nil)

type localClaim struct {
	token   string
	expires time.Time
}

// LocalLocker is the in-process ClaimLocker used when redis is not configured.
type LocalLocker struct {
	mu     sync.Mutex
	claims map[string]localClaim
	now    func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{claims: make(map[string]localClaim), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if c, ok := l.claims[key]; ok && now.Before(c.expires) {
		return "", domain.ErrLockNotAcquired
	}
	token := uuid.NewString()
	l.claims[key] = localClaim{token: token, expires: now.Add(ttl)}
	return token, nil
}

// Unlock is a no-op when token no longer owns key.
func (l *LocalLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.claims[key]; ok && c.token == token {
		delete(l.claims, key)
	}
	return nil
}
