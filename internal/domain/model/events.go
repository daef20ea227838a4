package model

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind enumerates the domain events. The set is closed.
type EventKind int

const (
	EventJobStatusChanged EventKind = iota + 1
	EventVersionAttached
)

func (k EventKind) String() string {
	switch k {
	case EventJobStatusChanged:
		return "job.status_changed"
	case EventVersionAttached:
		return "job.version_attached"
	default:
		return "unknown"
	}
}

// Event is implemented only by the event types of this package.
type Event interface {
	Kind() EventKind
	EventID() string
	Job() JobID
	OccurredAt() time.Time
	sealed()
}

// JobStatusChanged is raised by ImageJob.UpdateStatus.
type JobStatusChanged struct {
	ID       string           `json:"id"`
	JobID    JobID            `json:"jobId"`
	Previous ProcessingStatus `json:"previousStatus"`
	Current  ProcessingStatus `json:"newStatus"`
	At       time.Time        `json:"timestamp"`
}

func (e JobStatusChanged) Kind() EventKind       { return EventJobStatusChanged }
func (e JobStatusChanged) EventID() string       { return e.ID }
func (e JobStatusChanged) Job() JobID            { return e.JobID }
func (e JobStatusChanged) OccurredAt() time.Time { return e.At }
func (JobStatusChanged) sealed()                 {}

// VersionAttached is raised by ImageJob.AddVersion.
type VersionAttached struct {
	ID           string      `json:"id"`
	JobID        JobID       `json:"jobId"`
	Variant      VariantKind `json:"variant"`
	Path         string      `json:"path"`
	Bytes        int64       `json:"bytes"`
	WithinLimit  bool        `json:"withinLimit"`
	Recompressed bool        `json:"recompressed"`
	At           time.Time   `json:"timestamp"`
}

func (e VersionAttached) Kind() EventKind       { return EventVersionAttached }
func (e VersionAttached) EventID() string       { return e.ID }
func (e VersionAttached) Job() JobID            { return e.JobID }
func (e VersionAttached) OccurredAt() time.Time { return e.At }
func (VersionAttached) sealed()                 {}

func newEventID() string { return ulid.Make().String() }

// EventHandler has one method per event kind, so adding a kind breaks every
// handler at compile time.
type EventHandler interface {
	OnJobStatusChanged(ctx context.Context, e JobStatusChanged)
	OnVersionAttached(ctx context.Context, e VersionAttached)
}

// Dispatch routes e to the matching handler method.
func Dispatch(ctx context.Context, h EventHandler, e Event) {
	switch ev := e.(type) {
	case JobStatusChanged:
		h.OnJobStatusChanged(ctx, ev)
	case VersionAttached:
		h.OnVersionAttached(ctx, ev)
	}
}

// EventHandlerFuncs adapts plain functions; nil fields ignore the event.
type EventHandlerFuncs struct {
	StatusChanged   func(ctx context.Context, e JobStatusChanged)
	VersionAttached func(ctx context.Context, e VersionAttached)
}

func (f EventHandlerFuncs) OnJobStatusChanged(ctx context.Context, e JobStatusChanged) {
	if f.StatusChanged != nil {
		f.StatusChanged(ctx, e)
	}
}

func (f EventHandlerFuncs) OnVersionAttached(ctx context.Context, e VersionAttached) {
	if f.VersionAttached != nil {
		f.VersionAttached(ctx, e)
	}
}
