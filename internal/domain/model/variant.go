package model

import (
	"fmt"
	"strings"

	"product-image-pipeline/internal/domain"
)

// VariantKind is one of the four fixed derived image categories.
type VariantKind int

const (
	VariantMaster VariantKind = iota
	VariantGrid
	VariantPDP
	VariantThumbnail

	variantCount
)

// VariantCount is the number of variants produced for every job.
const VariantCount = int(variantCount)

// AllVariants returns the kinds in processing order.
func AllVariants() [VariantCount]VariantKind {
	return [VariantCount]VariantKind{VariantMaster, VariantGrid, VariantPDP, VariantThumbnail}
}

var variantNames = [VariantCount]string{"V1_MASTER", "V2_GRID", "V3_PDP", "V4_THUMBNAIL"}

var variantShortNames = [VariantCount]string{"master", "grid", "pdp", "thumb"}

func (k VariantKind) Valid() bool { return k >= 0 && k < variantCount }

func (k VariantKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("VariantKind(%d)", int(k))
	}
	return variantNames[k]
}

// ShortName is the token used in enterprise file names.
func (k VariantKind) ShortName() string {
	if !k.Valid() {
		return ""
	}
	return variantShortNames[k]
}

// Directory is the lower-cased kind used as a storage directory segment.
func (k VariantKind) Directory() string { return strings.ToLower(k.String()) }

func ParseVariantKind(s string) (VariantKind, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range variantNames {
		if name == up || variantShortNames[i] == strings.ToLower(up) {
			return VariantKind(i), nil
		}
	}
	return 0, domain.NewValidationError(domain.Violation{
		Field: "variant", Code: domain.CodeValidation, Message: "unknown variant kind", Value: s,
	})
}

func (k VariantKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid variant kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *VariantKind) UnmarshalText(b []byte) error {
	parsed, err := ParseVariantKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

type ImageFormat string

const (
	FormatWebP ImageFormat = "WEBP"
	FormatJPEG ImageFormat = "JPEG"
	FormatPNG  ImageFormat = "PNG"
)

// Extension is the lower-cased file extension for the format.
func (f ImageFormat) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return strings.ToLower(string(f))
}

func (f ImageFormat) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "image/webp"
	}
}

type FitMode string

const (
	FitContain FitMode = "contain"
	FitCover   FitMode = "cover"
)

// VariantConfig is the fixed output contract of one variant kind.
type VariantConfig struct {
	Resolution Resolution
	MaxBytes   int64
	Format     ImageFormat
	Quality    int
	Fit        FitMode
}

var variantConfigs = [VariantCount]VariantConfig{
	VariantMaster:    {Resolution: mustResolution(4096, 4096), MaxBytes: 1536 * KiB, Format: FormatWebP, Quality: 95, Fit: FitContain},
	VariantGrid:      {Resolution: mustResolution(2048, 2048), MaxBytes: 500 * KiB, Format: FormatWebP, Quality: 85, Fit: FitCover},
	VariantPDP:       {Resolution: mustResolution(1200, 1200), MaxBytes: 300 * KiB, Format: FormatWebP, Quality: 85, Fit: FitCover},
	VariantThumbnail: {Resolution: mustResolution(600, 600), MaxBytes: 150 * KiB, Format: FormatWebP, Quality: 80, Fit: FitCover},
}

func (k VariantKind) Config() VariantConfig {
	if !k.Valid() {
		return VariantConfig{}
	}
	return variantConfigs[k]
}

// EnterpriseFileName builds {key}_{short}_{w}x{h}.{ext} for kind.
func EnterpriseFileName(key string, kind VariantKind) (FileName, error) {
	cfg := kind.Config()
	return NewFileName(fmt.Sprintf("%s_%s_%s.%s", key, kind.ShortName(), cfg.Resolution, cfg.Format.Extension()))
}

// CropRegion is a rectangle in source pixel coordinates.
type CropRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (c CropRegion) Valid() bool {
	return c.X >= 0 && c.Y >= 0 && c.Width > 0 && c.Height > 0
}

// VersionSet holds at most one version per kind, indexed by the bounded enum.
type VersionSet struct {
	slots [VariantCount]*ImageVersion
}

func (s VersionSet) Get(kind VariantKind) (*ImageVersion, bool) {
	if !kind.Valid() || s.slots[kind] == nil {
		return nil, false
	}
	return s.slots[kind], true
}

func (s VersionSet) Has(kind VariantKind) bool {
	_, ok := s.Get(kind)
	return ok
}

func (s VersionSet) Len() int {
	n := 0
	for _, v := range s.slots {
		if v != nil {
			n++
		}
	}
	return n
}

// All returns the attached versions in processing order.
func (s VersionSet) All() []*ImageVersion {
	out := make([]*ImageVersion, 0, VariantCount)
	for _, v := range s.slots {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// Complete reports whether every kind has a version.
func (s VersionSet) Complete() bool { return s.Len() == VariantCount }
