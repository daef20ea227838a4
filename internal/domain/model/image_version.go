package model

import (
	"fmt"
	"strings"
	"time"

	"product-image-pipeline/internal/domain"
)

// ImageVersion is one generated variant of a job's source image.
// It is immutable; recompression yields a new value.
type ImageVersion struct {
	jobID        JobID
	kind         VariantKind
	resolution   Resolution
	size         FileSize
	storagePath  string
	fileName     FileName
	format       ImageFormat
	quality      int
	contentHash  string
	recompressed bool
	createdAt    time.Time
}

type NewImageVersionParams struct {
	JobID       JobID
	Kind        VariantKind
	ByteLength  int64
	StoragePath string
	FileName    FileName
	ContentHash string
}

// NewImageVersion takes resolution, format and quality from the kind's fixed config.
func NewImageVersion(p NewImageVersionParams) (*ImageVersion, error) {
	var c domain.Collector
	if p.JobID.IsZero() {
		c.Add("jobId", domain.CodeMissingField, "is required", nil)
	}
	if !p.Kind.Valid() {
		c.Add("variant", domain.CodeValidation, "unknown variant kind", int(p.Kind))
	}
	if strings.TrimSpace(p.StoragePath) == "" {
		c.Add("storagePath", domain.CodeMissingField, "is required", nil)
	}
	if p.FileName.IsZero() {
		c.Add("fileName", domain.CodeMissingField, "is required", nil)
	}
	size, err := NewFileSize(p.ByteLength)
	c.Merge("fileSize", err)
	if err := c.Err(); err != nil {
		return nil, err
	}

	cfg := p.Kind.Config()
	return &ImageVersion{
		jobID:       p.JobID,
		kind:        p.Kind,
		resolution:  cfg.Resolution,
		size:        size,
		storagePath: p.StoragePath,
		fileName:    p.FileName,
		format:      cfg.Format,
		quality:     cfg.Quality,
		contentHash: p.ContentHash,
		createdAt:   time.Now().UTC(),
	}, nil
}

func (v *ImageVersion) JobID() JobID           { return v.jobID }
func (v *ImageVersion) Kind() VariantKind      { return v.kind }
func (v *ImageVersion) Resolution() Resolution { return v.resolution }
func (v *ImageVersion) Size() FileSize         { return v.size }
func (v *ImageVersion) StoragePath() string    { return v.storagePath }
func (v *ImageVersion) FileName() FileName     { return v.fileName }
func (v *ImageVersion) Format() ImageFormat    { return v.format }
func (v *ImageVersion) Quality() int           { return v.quality }
func (v *ImageVersion) ContentHash() string    { return v.contentHash }
func (v *ImageVersion) Recompressed() bool     { return v.recompressed }
func (v *ImageVersion) CreatedAt() time.Time   { return v.createdAt }

// IsWithinSizeLimit compares the recorded size against the kind's ceiling.
func (v *ImageVersion) IsWithinSizeLimit() bool {
	return !v.size.Exceeds(v.kind.Config().MaxBytes)
}

// WithRecompressed returns a copy pointing at the recompressed object.
func (v *ImageVersion) WithRecompressed(storagePath string, byteLength int64, quality int, contentHash string) (*ImageVersion, error) {
	if strings.TrimSpace(storagePath) == "" {
		return nil, fmt.Errorf("recompressed version: %w", domain.ErrInvalidArgument)
	}
	size, err := NewFileSize(byteLength)
	if err != nil {
		return nil, err
	}
	cp := *v
	cp.storagePath = storagePath
	cp.size = size
	cp.quality = quality
	cp.contentHash = contentHash
	cp.recompressed = true
	return &cp, nil
}

// VersionSnapshot is the persisted shape of an ImageVersion.
type VersionSnapshot struct {
	JobID        string      `json:"jobId"`
	Variant      VariantKind `json:"variant"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	FileSize     int64       `json:"fileSize"`
	FilePath     string      `json:"filePath"`
	FileName     string      `json:"fileName"`
	Format       ImageFormat `json:"format"`
	Quality      int         `json:"quality"`
	ContentHash  string      `json:"contentHash"`
	Recompressed bool        `json:"recompressed"`
	CreatedAt    time.Time   `json:"createdAt"`
}

func (v *ImageVersion) Snapshot() VersionSnapshot {
	return VersionSnapshot{
		JobID:        v.jobID.String(),
		Variant:      v.kind,
		Width:        v.resolution.Width(),
		Height:       v.resolution.Height(),
		FileSize:     v.size.Bytes(),
		FilePath:     v.storagePath,
		FileName:     v.fileName.String(),
		Format:       v.format,
		Quality:      v.quality,
		ContentHash:  v.contentHash,
		Recompressed: v.recompressed,
		CreatedAt:    v.createdAt,
	}
}

// RestoreImageVersion rebuilds a version from its persisted shape.
func RestoreImageVersion(s VersionSnapshot) (*ImageVersion, error) {
	var c domain.Collector
	id, err := ParseJobID(s.JobID)
	c.Merge("jobId", err)
	res, err := NewResolution(s.Width, s.Height)
	c.Merge("resolution", err)
	size, err := NewFileSize(s.FileSize)
	c.Merge("fileSize", err)
	name, err := NewFileName(s.FileName)
	c.Merge("fileName", err)
	if !s.Variant.Valid() {
		c.Add("variant", domain.CodeValidation, "unknown variant kind", int(s.Variant))
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("restore version: %w", err)
	}
	return &ImageVersion{
		jobID:        id,
		kind:         s.Variant,
		resolution:   res,
		size:         size,
		storagePath:  s.FilePath,
		fileName:     name,
		format:       s.Format,
		quality:      s.Quality,
		contentHash:  s.ContentHash,
		recompressed: s.Recompressed,
		createdAt:    s.CreatedAt,
	}, nil
}
