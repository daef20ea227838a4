package adapter

import (
	"context"

	"product-image-pipeline/internal/domain/model"
)

// Subscription identifies one registered handler.
type Subscription uint64

// EventBus fans domain events out to subscribers.
// Subscribe with no kinds receives every kind.
type EventBus interface {
	Publish(ctx context.Context, events ...model.Event)
	Subscribe(h model.EventHandler, kinds ...model.EventKind) Subscription
	Unsubscribe(sub Subscription)
}
