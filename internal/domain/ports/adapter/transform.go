package adapter

import (
	"context"

	"product-image-pipeline/internal/domain/model"
)

// TransformOptions describes one resize/encode pass.
type TransformOptions struct {
	TargetWidth  int
	TargetHeight int
	Format       model.ImageFormat
	Quality      int
	Fit          model.FitMode
	// Background fills the letterbox of a contain fit, as "#rrggbb". Transparent when nil.
	Background *string
	// Extract is applied to the source before resizing.
	Extract *model.CropRegion
}

type ImageInfo struct {
	Width      int
	Height     int
	Format     string
	Size       int64
	HasAlpha   bool
	ColorSpace string
	Density    int
}

// ImageTransformer is the port for decoding, resizing and encoding images.
type ImageTransformer interface {
	Process(ctx context.Context, src []byte, opts TransformOptions) ([]byte, error)
	Compress(ctx context.Context, src []byte, format model.ImageFormat, quality int) ([]byte, error)
	GetInfo(ctx context.Context, src []byte) (ImageInfo, error)
}
