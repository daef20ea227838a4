package metrics

import (
	"context"
	"sync"
	"time"

	"product-image-pipeline/internal/domain/model"
)

var _ model.EventHandler = (*EventRecorder)(nil)

// EventRecorder turns domain events into pipeline metrics. Subscribe it to
// the event bus once per process.
type EventRecorder struct {
	mu      sync.Mutex
	started map[model.JobID]time.Time
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{started: make(map[model.JobID]time.Time)}
}

func (r *EventRecorder) OnJobStatusChanged(_ context.Context, e model.JobStatusChanged) {
	IncStatusTransition(e.Previous.String(), e.Current.String())

	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.Current {
	case model.StatusProcessing:
		r.started[e.JobID] = e.At
	case model.StatusCompleted, model.StatusFailed, model.StatusCancelled:
		if e.Previous != model.StatusProcessing {
			return
		}
		IncPipelineRun(e.Current.String())
		if at, ok := r.started[e.JobID]; ok {
			ObservePipelineDuration(e.At.Sub(at).Seconds())
			delete(r.started, e.JobID)
		}
	}
	SetJobsInFlight(len(r.started))
}

func (r *EventRecorder) OnVersionAttached(_ context.Context, e model.VersionAttached) {
	variant := e.Variant.String()
	IncVariant(variant, e.WithinLimit)
	ObserveVariantBytes(variant, e.Bytes)
	if e.Recompressed {
		IncRecompress(variant)
	}
}

func (r *EventRecorder) inFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}
