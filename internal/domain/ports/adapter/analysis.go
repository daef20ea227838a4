package adapter

import (
	"context"

	"product-image-pipeline/internal/domain/model"
)

type AnalysisRequest struct {
	MimeType string
	Brand    *model.BrandContext
	Product  *model.ProductContext
}

type DetectedObject struct {
	Label      string           `json:"label"`
	Confidence float64          `json:"confidence"`
	Box        model.CropRegion `json:"box"`
}

// AnalysisResult is what an analyzer could tell about one source image.
// SuggestedCrop is nil when no crop is recommended.
type AnalysisResult struct {
	Provider        string            `json:"provider"`
	Prompt          string            `json:"prompt"`
	DetectedObjects []DetectedObject  `json:"detectedObjects"`
	SuggestedCrop   *model.CropRegion `json:"suggestedCrop,omitempty"`
	QualityScore    float64           `json:"qualityScore"`
	DominantColors  []string          `json:"dominantColors,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Description     string            `json:"description,omitempty"`
	Issues          []string          `json:"issues,omitempty"`
}

// ImageAnalyzer is the optional AI port used for smart crops.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, image []byte, req AnalysisRequest) (*AnalysisResult, error)
	IsAvailable(ctx context.Context) bool
}
