package adapter

import "context"

// Notifier delivers a short human readable message to operators.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
