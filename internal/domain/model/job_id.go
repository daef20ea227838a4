package model

import (
	"strings"

	"github.com/google/uuid"

	"product-image-pipeline/internal/domain"
)

// JobID identifies one ImageJob. Only version 4 UUIDs are accepted.
type JobID struct {
	value string
}

// NewJobID generates a fresh random id.
func NewJobID() JobID {
	return JobID{value: uuid.NewString()}
}

// ParseJobID validates s as a UUID v4 and normalizes it to lower case.
func ParseJobID(s string) (JobID, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil || u.Version() != 4 {
		return JobID{}, domain.NewValidationError(domain.Violation{
			Field:   "jobId",
			Code:    domain.CodeInvalidJobID,
			Message: "must be a UUID v4",
			Value:   s,
		})
	}
	return JobID{value: u.String()}, nil
}

func (id JobID) String() string { return id.value }

func (id JobID) IsZero() bool { return id.value == "" }

func (id JobID) MarshalText() ([]byte, error) { return []byte(id.value), nil }

func (id *JobID) UnmarshalText(b []byte) error {
	parsed, err := ParseJobID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
