package model

import (
	"fmt"
	"math"

	"product-image-pipeline/internal/domain"
)

const MaxDimension = 16384

type Orientation string

const (
	OrientationSquare    Orientation = "square"
	OrientationLandscape Orientation = "landscape"
	OrientationPortrait  Orientation = "portrait"
)

// Resolution is a pixel width/height pair, each in 1..MaxDimension.
type Resolution struct {
	width  int
	height int
}

func NewResolution(width, height int) (Resolution, error) {
	var c domain.Collector
	if width <= 0 || width > MaxDimension {
		c.Add("width", domain.CodeInvalidResolution, fmt.Sprintf("must be between 1 and %d", MaxDimension), width)
	}
	if height <= 0 || height > MaxDimension {
		c.Add("height", domain.CodeInvalidResolution, fmt.Sprintf("must be between 1 and %d", MaxDimension), height)
	}
	if err := c.Err(); err != nil {
		return Resolution{}, err
	}
	return Resolution{width: width, height: height}, nil
}

func mustResolution(width, height int) Resolution {
	r, err := NewResolution(width, height)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Resolution) Width() int  { return r.width }
func (r Resolution) Height() int { return r.height }

func (r Resolution) IsZero() bool { return r.width == 0 && r.height == 0 }

func (r Resolution) AspectRatio() float64 { return float64(r.width) / float64(r.height) }

func (r Resolution) Orientation() Orientation {
	switch {
	case r.width == r.height:
		return OrientationSquare
	case r.width > r.height:
		return OrientationLandscape
	default:
		return OrientationPortrait
	}
}

func (r Resolution) IsSquare() bool    { return r.Orientation() == OrientationSquare }
func (r Resolution) IsLandscape() bool { return r.Orientation() == OrientationLandscape }
func (r Resolution) IsPortrait() bool  { return r.Orientation() == OrientationPortrait }

func (r Resolution) Megapixels() float64 {
	return float64(r.width) * float64(r.height) / 1_000_000
}

func (r Resolution) String() string { return fmt.Sprintf("%dx%d", r.width, r.height) }

// FitWithin scales r so that it fits inside maxWidth x maxHeight.
func (r Resolution) FitWithin(maxWidth, maxHeight int) (Resolution, error) {
	if err := r.requireSet(); err != nil {
		return Resolution{}, err
	}
	bounds, err := NewResolution(maxWidth, maxHeight)
	if err != nil {
		return Resolution{}, err
	}
	scale := math.Min(float64(bounds.width)/float64(r.width), float64(bounds.height)/float64(r.height))
	return r.scaled(scale)
}

// Cover scales r so that it fully covers targetWidth x targetHeight.
func (r Resolution) Cover(targetWidth, targetHeight int) (Resolution, error) {
	if err := r.requireSet(); err != nil {
		return Resolution{}, err
	}
	target, err := NewResolution(targetWidth, targetHeight)
	if err != nil {
		return Resolution{}, err
	}
	scale := math.Max(float64(target.width)/float64(r.width), float64(target.height)/float64(r.height))
	return r.scaled(scale)
}

func (r Resolution) requireSet() error {
	if r.width <= 0 || r.height <= 0 {
		return domain.NewValidationError(domain.Violation{
			Field:   "resolution",
			Code:    domain.CodeInvalidResolution,
			Message: "source resolution is not set",
			Value:   r.String(),
		})
	}
	return nil
}

func (r Resolution) scaled(scale float64) (Resolution, error) {
	w, h := float64(r.width)*scale, float64(r.height)*scale
	// keep the int conversion defined; NewResolution rejects the result
	if w > MaxDimension+2 {
		w = MaxDimension + 2
	}
	if h > MaxDimension+2 {
		h = MaxDimension + 2
	}
	return NewResolution(evenFloor(w), evenFloor(h))
}

// evenFloor rounds down to the nearest even number, never below 2.
func evenFloor(x float64) int {
	n := int(math.Floor(x + 1e-9))
	n -= n % 2
	if n < 2 {
		return 2
	}
	return n
}
