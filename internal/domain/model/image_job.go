package model

import (
	"fmt"
	"strings"
	"time"

	"product-image-pipeline/internal/domain"
)

// MaxSourceBytes is the upper bound of an uploaded source image.
const MaxSourceBytes = 50 * MiB

var allowedMimeTypes = map[string]struct{}{
	"image/jpeg":    {},
	"image/png":     {},
	"image/webp":    {},
	"image/tiff":    {},
	"image/svg+xml": {},
	"image/gif":     {},
}

// IsAllowedMimeType reports whether mime is an accepted source type.
func IsAllowedMimeType(mime string) bool {
	_, ok := allowedMimeTypes[strings.ToLower(strings.TrimSpace(mime))]
	return ok
}

type BrandContext struct {
	Name       string `json:"name,omitempty"`
	Vertical   string `json:"vertical,omitempty"`
	Tone       string `json:"tone,omitempty"`
	Background string `json:"background,omitempty"`
}

type ProductContext struct {
	ID         string            `json:"id,omitempty"`
	Category   string            `json:"category,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ImageJob is the aggregate root tracking one source image through the pipeline.
type ImageJob struct {
	id           JobID
	fileName     FileName
	originalSize FileSize
	originalPath string
	sourceReady  bool
	mimeType     string
	status       ProcessingStatus
	versions     VersionSet
	metadata     map[string]string
	brand        *BrandContext
	product      *ProductContext
	createdAt    time.Time
	updatedAt    time.Time
}

type NewImageJobParams struct {
	// ID is generated when zero.
	ID           JobID
	FileName     string
	OriginalPath string
	OriginalSize int64
	MimeType     string
	Metadata     map[string]string
	Brand        *BrandContext
	Product      *ProductContext
}

// NewImageJob validates p, collecting every violation, and returns a PENDING job.
func NewImageJob(p NewImageJobParams) (*ImageJob, error) {
	var c domain.Collector

	name, err := NewFileName(p.FileName)
	c.Merge("fileName", err)
	if strings.TrimSpace(p.OriginalPath) == "" {
		c.Add("originalPath", domain.CodeMissingField, "is required", nil)
	}
	mime := strings.ToLower(strings.TrimSpace(p.MimeType))
	if !IsAllowedMimeType(mime) {
		c.Add("mimeType", domain.CodeUnsupportedMimeType, "unsupported mime type", p.MimeType)
	}
	size, err := NewFileSize(p.OriginalSize)
	c.Merge("originalSize", err)
	if err == nil && size.Exceeds(MaxSourceBytes) {
		c.Add("originalSize", domain.CodeFileTooLarge, fmt.Sprintf("must be at most %d bytes", MaxSourceBytes), p.OriginalSize)
	}
	if err := c.Err(); err != nil {
		return nil, err
	}

	id := p.ID
	if id.IsZero() {
		id = NewJobID()
	}
	now := time.Now().UTC()
	return &ImageJob{
		id:           id,
		fileName:     name,
		originalSize: size,
		originalPath: p.OriginalPath,
		mimeType:     mime,
		status:       StatusPending,
		metadata:     copyStrings(p.Metadata),
		brand:        copyBrand(p.Brand),
		product:      copyProduct(p.Product),
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

func (j *ImageJob) ID() JobID                { return j.id }
func (j *ImageJob) FileName() FileName       { return j.fileName }
func (j *ImageJob) OriginalSize() FileSize   { return j.originalSize }
func (j *ImageJob) OriginalPath() string     { return j.originalPath }
func (j *ImageJob) SourceReady() bool        { return j.sourceReady }
func (j *ImageJob) MimeType() string         { return j.mimeType }
func (j *ImageJob) Status() ProcessingStatus { return j.status }
func (j *ImageJob) Versions() VersionSet     { return j.versions }
func (j *ImageJob) CreatedAt() time.Time     { return j.createdAt }
func (j *ImageJob) UpdatedAt() time.Time     { return j.updatedAt }
func (j *ImageJob) Brand() *BrandContext     { return copyBrand(j.brand) }
func (j *ImageJob) Product() *ProductContext { return copyProduct(j.product) }
func (j *ImageJob) Metadata() map[string]string {
	return copyStrings(j.metadata)
}

// AssetKey is the product id when one is known, otherwise the job id.
// It prefixes every derived file name and storage directory.
func (j *ImageJob) AssetKey() string {
	if j.product != nil && strings.TrimSpace(j.product.ID) != "" {
		return strings.TrimSpace(j.product.ID)
	}
	return j.id.String()
}

// UpdateStatus sets the new status and returns the change event, or nil when
// the status is unchanged. The transition table is checked by callers.
func (j *ImageJob) UpdateStatus(next ProcessingStatus) *JobStatusChanged {
	if next == j.status {
		return nil
	}
	prev := j.status
	j.status = next
	j.touch()
	return &JobStatusChanged{
		ID:       newEventID(),
		JobID:    j.id,
		Previous: prev,
		Current:  next,
		At:       j.updatedAt,
	}
}

// TransitionTo is UpdateStatus guarded by the transition table.
func (j *ImageJob) TransitionTo(next ProcessingStatus) (*JobStatusChanged, error) {
	if next == j.status {
		return nil, nil
	}
	if !j.status.CanTransitionTo(next) {
		return nil, domain.NewInvalidStateError(j.id.String(), j.status.String(), next.String())
	}
	return j.UpdateStatus(next), nil
}

// AddVersion attaches v. A second version of the same kind is rejected.
func (j *ImageJob) AddVersion(v *ImageVersion) (*VersionAttached, error) {
	if v == nil {
		return nil, fmt.Errorf("add version: %w", domain.ErrInvalidArgument)
	}
	if v.JobID() != j.id {
		return nil, fmt.Errorf("add version: version belongs to job %s: %w", v.JobID(), domain.ErrInvalidArgument)
	}
	if j.versions.Has(v.Kind()) {
		return nil, fmt.Errorf("add version %s to job %s: %w", v.Kind(), j.id, domain.ErrAlreadyExists)
	}
	j.versions.slots[v.Kind()] = v
	j.touch()
	return &VersionAttached{
		ID:           newEventID(),
		JobID:        j.id,
		Variant:      v.Kind(),
		Path:         v.StoragePath(),
		Bytes:        v.Size().Bytes(),
		WithinLimit:  v.IsWithinSizeLimit(),
		Recompressed: v.Recompressed(),
		At:           j.updatedAt,
	}, nil
}

func (j *ImageJob) GetVersion(kind VariantKind) (*ImageVersion, bool) {
	return j.versions.Get(kind)
}

// ClearVersions drops every attached version; used by an explicit restart.
func (j *ImageJob) ClearVersions() {
	j.versions = VersionSet{}
	j.touch()
}

// AttachSource records where the uploaded source bytes were stored and
// makes the job claimable. Only allowed before processing started.
func (j *ImageJob) AttachSource(path string, size FileSize) error {
	if !j.status.IsClaimable() {
		return domain.NewInvalidStateError(j.id.String(), j.status.String(), j.status.String())
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("attach source: %w", domain.ErrInvalidArgument)
	}
	if size.Exceeds(MaxSourceBytes) {
		return domain.NewValidationError(domain.Violation{
			Field: "originalSize", Code: domain.CodeFileTooLarge,
			Message: fmt.Sprintf("must be at most %d bytes", MaxSourceBytes), Value: size.Bytes(),
		})
	}
	j.originalPath = path
	j.originalSize = size
	j.sourceReady = true
	j.touch()
	return nil
}

// RestoreStatus puts back a status already held by the store, without an
// event. Used when a save failed or another writer moved the job first.
func (j *ImageJob) RestoreStatus(s ProcessingStatus) {
	j.status = s
}

func (j *ImageJob) touch() {
	now := time.Now().UTC()
	if !now.After(j.updatedAt) {
		now = j.updatedAt.Add(time.Microsecond)
	}
	j.updatedAt = now
}

// JobSnapshot is the persisted shape of an ImageJob.
type JobSnapshot struct {
	ID           string            `json:"id"`
	FileName     string            `json:"fileName"`
	OriginalSize int64             `json:"originalSize"`
	OriginalPath string            `json:"originalPath"`
	SourceReady  bool              `json:"sourceReady"`
	MimeType     string            `json:"mimeType"`
	Status       ProcessingStatus  `json:"status"`
	Versions     []VersionSnapshot `json:"versions"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Brand        *BrandContext     `json:"brandContext,omitempty"`
	Product      *ProductContext   `json:"productContext,omitempty"`
}

func (j *ImageJob) Snapshot() JobSnapshot {
	versions := make([]VersionSnapshot, 0, VariantCount)
	for _, v := range j.versions.All() {
		versions = append(versions, v.Snapshot())
	}
	return JobSnapshot{
		ID:           j.id.String(),
		FileName:     j.fileName.String(),
		OriginalSize: j.originalSize.Bytes(),
		OriginalPath: j.originalPath,
		SourceReady:  j.sourceReady,
		MimeType:     j.mimeType,
		Status:       j.status,
		Versions:     versions,
		CreatedAt:    j.createdAt,
		UpdatedAt:    j.updatedAt,
		Metadata:     copyStrings(j.metadata),
		Brand:        copyBrand(j.brand),
		Product:      copyProduct(j.product),
	}
}

// RestoreImageJob rebuilds a job from storage without re-running creation
// rules, so historical records stay loadable.
func RestoreImageJob(s JobSnapshot) (*ImageJob, error) {
	var c domain.Collector
	id, err := ParseJobID(s.ID)
	c.Merge("id", err)
	name, err := NewFileName(s.FileName)
	c.Merge("fileName", err)
	size, err := NewFileSize(s.OriginalSize)
	c.Merge("originalSize", err)
	if !s.Status.Valid() {
		c.Add("status", domain.CodeValidation, "unknown processing status", s.Status)
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("restore job: %w", err)
	}

	j := &ImageJob{
		id:           id,
		fileName:     name,
		originalSize: size,
		originalPath: s.OriginalPath,
		sourceReady:  s.SourceReady,
		mimeType:     s.MimeType,
		status:       s.Status,
		metadata:     copyStrings(s.Metadata),
		brand:        copyBrand(s.Brand),
		product:      copyProduct(s.Product),
		createdAt:    s.CreatedAt,
		updatedAt:    s.UpdatedAt,
	}
	for _, vs := range s.Versions {
		v, err := RestoreImageVersion(vs)
		if err != nil {
			return nil, err
		}
		if v.JobID() != id {
			return nil, fmt.Errorf("restore job %s: version of job %s: %w", id, v.JobID(), domain.ErrInvalidArgument)
		}
		if j.versions.Has(v.Kind()) {
			return nil, fmt.Errorf("restore job %s: duplicate %s: %w", id, v.Kind(), domain.ErrAlreadyExists)
		}
		j.versions.slots[v.Kind()] = v
	}
	return j, nil
}

func copyStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBrand(b *BrandContext) *BrandContext {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}

func copyProduct(p *ProductContext) *ProductContext {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Attributes = copyStrings(p.Attributes)
	return &cp
}
