package usecase

import (
	"context"

	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
)

// eventBuffer collects events raised while mutating a job; they are published
// only after the job was persisted.
type eventBuffer []model.Event

func (b *eventBuffer) status(e *model.JobStatusChanged) {
	if e != nil {
		*b = append(*b, *e)
	}
}

func (b *eventBuffer) version(e *model.VersionAttached) {
	if e != nil {
		*b = append(*b, *e)
	}
}

func (b *eventBuffer) flush(ctx context.Context, bus adapter.EventBus) {
	if len(*b) == 0 {
		return
	}
	bus.Publish(ctx, (*b)...)
	*b = (*b)[:0]
}

type nopBus struct{}

func (nopBus) Publish(context.Context, ...model.Event) {}
func (nopBus) Unsubscribe(adapter.Subscription)        {}
func (nopBus) Subscribe(model.EventHandler, ...model.EventKind) adapter.Subscription {
	return 0
}

func busOrNop(bus adapter.EventBus) adapter.EventBus {
	if bus == nil {
		return nopBus{}
	}
	return bus
}
