package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrReadDatabaseRow    = errors.New("could not read database row")
	ErrOperationFailed    = errors.New("operation failed")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrLockNotAcquired    = errors.New("lock not acquired")
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrJobCancelled       = errors.New("job cancelled")
)

// Code is the short machine readable identifier carried by every domain failure.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeFileTooLarge        Code = "FILE_TOO_LARGE"
	CodeUnsupportedMimeType Code = "UNSUPPORTED_MIME_TYPE"
	CodeInvalidFileName     Code = "INVALID_FILE_NAME"
	CodeInvalidFileSize     Code = "INVALID_FILE_SIZE"
	CodeInvalidResolution   Code = "INVALID_RESOLUTION"
	CodeInvalidJobID        Code = "INVALID_JOB_ID"
	CodeMissingField        Code = "MISSING_FIELD"
	CodeJobNotFound         Code = "JOB_NOT_FOUND"
	CodeInvalidJobState     Code = "INVALID_JOB_STATE"
	CodeVersionGeneration   Code = "VERSION_GENERATION_FAILED"
	CodeDownloadFailed      Code = "DOWNLOAD_FAILED"
	CodePipeline            Code = "PIPELINE_ERROR"
)

// Error is implemented by the closed set of typed failures below.
type Error interface {
	error
	Code() Code
	Recoverable() bool
	OccurredAt() time.Time
}

var (
	_ Error = (*ValidationError)(nil)
	_ Error = (*JobNotFoundError)(nil)
	_ Error = (*InvalidStateError)(nil)
	_ Error = (*VersionGenerationError)(nil)
	_ Error = (*DownloadError)(nil)
	_ Error = (*PipelineError)(nil)
)

// Violation is one broken validation rule.
type Violation struct {
	Field   string `json:"field"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationError lists every violated rule of one input at once.
type ValidationError struct {
	Violations []Violation
	at         time.Time
}

func NewValidationError(violations ...Violation) *ValidationError {
	return &ValidationError{Violations: violations, at: time.Now().UTC()}
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Code reports the single violated rule, or the generic validation code
// when several rules were broken.
func (e *ValidationError) Code() Code {
	if len(e.Violations) == 1 {
		return e.Violations[0].Code
	}
	return CodeValidation
}

func (e *ValidationError) Recoverable() bool     { return true }
func (e *ValidationError) OccurredAt() time.Time { return e.at }
func (e *ValidationError) Is(target error) bool  { return target == ErrInvalidArgument }

// Has reports whether any violation carries the given code.
func (e *ValidationError) Has(code Code) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Collector accumulates violations; Err returns nil when nothing was added.
type Collector struct {
	violations []Violation
}

func (c *Collector) Add(field string, code Code, message string, value any) {
	c.violations = append(c.violations, Violation{Field: field, Code: code, Message: message, Value: value})
}

// Merge pulls the violations out of err when it is a *ValidationError,
// otherwise records err as a generic violation of field.
func (c *Collector) Merge(field string, err error) {
	if err == nil {
		return
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		c.violations = append(c.violations, ve.Violations...)
		return
	}
	c.Add(field, CodeValidation, err.Error(), nil)
}

func (c *Collector) Err() error {
	if len(c.violations) == 0 {
		return nil
	}
	return NewValidationError(c.violations...)
}

// JobNotFoundError is returned when a job id has no persisted record.
type JobNotFoundError struct {
	JobID string
	at    time.Time
}

func NewJobNotFoundError(jobID string) *JobNotFoundError {
	return &JobNotFoundError{JobID: jobID, at: time.Now().UTC()}
}

func (e *JobNotFoundError) Error() string         { return fmt.Sprintf("job not found: %s", e.JobID) }
func (e *JobNotFoundError) Code() Code            { return CodeJobNotFound }
func (e *JobNotFoundError) Recoverable() bool     { return false }
func (e *JobNotFoundError) OccurredAt() time.Time { return e.at }
func (e *JobNotFoundError) Is(target error) bool  { return target == ErrNotFound }

// InvalidStateError is returned when a status transition is not in the table.
type InvalidStateError struct {
	JobID string
	From  string
	To    string
	at    time.Time
}

func NewInvalidStateError(jobID, from, to string) *InvalidStateError {
	return &InvalidStateError{JobID: jobID, From: from, To: to, at: time.Now().UTC()}
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid job state: job %s cannot move from %s to %s", e.JobID, e.From, e.To)
}
func (e *InvalidStateError) Code() Code            { return CodeInvalidJobState }
func (e *InvalidStateError) Recoverable() bool     { return false }
func (e *InvalidStateError) OccurredAt() time.Time { return e.at }

// VersionGenerationError reports a transform or store failure for one variant.
type VersionGenerationError struct {
	JobID   string
	Variant string
	Cause   error
	at      time.Time
}

func NewVersionGenerationError(jobID, variant string, cause error) *VersionGenerationError {
	return &VersionGenerationError{JobID: jobID, Variant: variant, Cause: cause, at: time.Now().UTC()}
}

func (e *VersionGenerationError) Error() string {
	return fmt.Sprintf("version generation failed: job %s variant %s: %v", e.JobID, e.Variant, e.Cause)
}
func (e *VersionGenerationError) Code() Code            { return CodeVersionGeneration }
func (e *VersionGenerationError) Recoverable() bool     { return false }
func (e *VersionGenerationError) OccurredAt() time.Time { return e.at }
func (e *VersionGenerationError) Unwrap() error         { return e.Cause }

// DownloadError reports a failed fetch of a remote source image.
type DownloadError struct {
	URL        string
	StatusCode int
	Cause      error
	at         time.Time
}

func NewDownloadError(url string, statusCode int, cause error) *DownloadError {
	return &DownloadError{URL: url, StatusCode: statusCode, Cause: cause, at: time.Now().UTC()}
}

func (e *DownloadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("download failed: %s: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("download failed: %s: http %d", e.URL, e.StatusCode)
}
func (e *DownloadError) Code() Code            { return CodeDownloadFailed }
func (e *DownloadError) Recoverable() bool     { return true }
func (e *DownloadError) OccurredAt() time.Time { return e.at }
func (e *DownloadError) Unwrap() error         { return e.Cause }

// PipelineError wraps any unexpected failure of a pipeline run. The job can be
// restarted later, the run itself is over.
type PipelineError struct {
	JobID string
	Cause error
	at    time.Time
}

func NewPipelineError(jobID string, cause error) *PipelineError {
	return &PipelineError{JobID: jobID, Cause: cause, at: time.Now().UTC()}
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error: job %s: %v", e.JobID, e.Cause)
}
func (e *PipelineError) Code() Code            { return CodePipeline }
func (e *PipelineError) Recoverable() bool     { return true }
func (e *PipelineError) OccurredAt() time.Time { return e.at }
func (e *PipelineError) Unwrap() error         { return e.Cause }

// CodeOf returns the code of a domain failure, or "" for foreign errors.
func CodeOf(err error) Code {
	var de Error
	if errors.As(err, &de) {
		return de.Code()
	}
	return ""
}
