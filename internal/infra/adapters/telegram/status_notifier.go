package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
)

var _ model.EventHandler = (*StatusNotifier)(nil)

// StatusNotifier turns terminal job transitions into operator messages.
// Handlers only enqueue; Run delivers, so a slow chat never stalls a pipeline.
type StatusNotifier struct {
	notifier adapter.Notifier
	queue    chan string
	timeout  time.Duration
	log      *zerolog.Logger
}

func NewStatusNotifier(n adapter.Notifier, buffer int, logger *zerolog.Logger) *StatusNotifier {
	if buffer <= 0 {
		buffer = 64
	}
	l := logger.With().Str("component", "status_notifier").Logger()
	return &StatusNotifier{
		notifier: n,
		queue:    make(chan string, buffer),
		timeout:  10 * time.Second,
		log:      &l,
	}
}

func (s *StatusNotifier) OnJobStatusChanged(_ context.Context, e model.JobStatusChanged) {
	text, ok := statusMessage(e)
	if !ok {
		return
	}
	select {
	case s.queue <- text:
	default:
		s.log.Warn().Str("job_id", e.JobID.String()).Msg("notification queue full, dropping message")
	}
}

func (s *StatusNotifier) OnVersionAttached(context.Context, model.VersionAttached) {}

// Run delivers queued messages until ctx is done.
func (s *StatusNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.queue:
			sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
			if err := s.notifier.Notify(sendCtx, text); err != nil {
				s.log.Error().Err(err).Msg("notification failed")
			}
			cancel()
		}
	}
}

func statusMessage(e model.JobStatusChanged) (string, bool) {
	switch e.Current {
	case model.StatusCompleted:
		return fmt.Sprintf("✅ job %s completed", e.JobID), true
	case model.StatusFailed:
		return fmt.Sprintf("❌ job %s failed (was %s)", e.JobID, e.Previous), true
	case model.StatusCancelled:
		return fmt.Sprintf("⏹ job %s cancelled", e.JobID), true
	}
	return "", false
}
