package events

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
)

var _ adapter.EventBus = (*Bus)(nil)

type subscriber struct {
	handler model.EventHandler
	kinds   map[model.EventKind]struct{}
}

func (s subscriber) wants(k model.EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus dispatches events synchronously, in subscription order. Handlers that
// do slow work must hand it off themselves.
type Bus struct {
	mu   sync.RWMutex
	next adapter.Subscription
	subs map[adapter.Subscription]subscriber
	log  *zerolog.Logger
}

func NewBus(logger *zerolog.Logger) *Bus {
	return &Bus{subs: make(map[adapter.Subscription]subscriber), log: logger}
}

func (b *Bus) Subscribe(h model.EventHandler, kinds ...model.EventKind) adapter.Subscription {
	s := subscriber{handler: h}
	if len(kinds) > 0 {
		s.kinds = make(map[model.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.subs[b.next] = s
	return b.next
}

func (b *Bus) Unsubscribe(sub adapter.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

func (b *Bus) Publish(ctx context.Context, events ...model.Event) {
	subs := b.snapshot()
	for _, e := range events {
		if e == nil {
			continue
		}
		for _, s := range subs {
			if s.wants(e.Kind()) {
				b.dispatch(ctx, s.handler, e)
			}
		}
	}
}

func (b *Bus) snapshot() []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]adapter.Subscription, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]subscriber, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.subs[id])
	}
	return out
}

// dispatch isolates the publisher from a panicking handler.
func (b *Bus) dispatch(ctx context.Context, h model.EventHandler, e model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event", e.Kind().String()).Str("job_id", e.Job().String()).Msg("event handler panicked")
		}
	}()
	model.Dispatch(ctx, h, e)
}
