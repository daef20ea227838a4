package model

import (
	"strings"

	"product-image-pipeline/internal/domain"
)

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusQueued     ProcessingStatus = "QUEUED"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusCompleted  ProcessingStatus = "COMPLETED"
	StatusFailed     ProcessingStatus = "FAILED"
	StatusCancelled  ProcessingStatus = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []ProcessingStatus {
	return []ProcessingStatus{StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
}

func ParseProcessingStatus(s string) (ProcessingStatus, error) {
	st := ProcessingStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", domain.NewValidationError(domain.Violation{
			Field: "status", Code: domain.CodeValidation, Message: "unknown processing status", Value: s,
		})
	}
	return st, nil
}

func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// AllowedTransitions returns the statuses s may legally move to.
// FAILED and CANCELLED only lead back to PENDING through an explicit restart.
func (s ProcessingStatus) AllowedTransitions() []ProcessingStatus {
	switch s {
	case StatusPending:
		return []ProcessingStatus{StatusQueued, StatusCancelled}
	case StatusQueued:
		return []ProcessingStatus{StatusProcessing, StatusCancelled}
	case StatusProcessing:
		return []ProcessingStatus{StatusCompleted, StatusFailed, StatusCancelled}
	case StatusFailed, StatusCancelled:
		return []ProcessingStatus{StatusPending}
	default:
		return nil
	}
}

func (s ProcessingStatus) CanTransitionTo(to ProcessingStatus) bool {
	for _, allowed := range s.AllowedTransitions() {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports that no worker will pick the job up on its own.
// FAILED and CANCELLED still accept an explicit restart.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsRestartable reports whether an explicit restart may move s back to PENDING.
func (s ProcessingStatus) IsRestartable() bool {
	return s == StatusFailed || s == StatusCancelled
}

// IsClaimable reports whether a worker may pick the job for processing.
func (s ProcessingStatus) IsClaimable() bool {
	return s == StatusPending || s == StatusQueued
}

func (s ProcessingStatus) String() string { return string(s) }
