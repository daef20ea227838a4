package model

import (
	"fmt"
	"math"

	"product-image-pipeline/internal/domain"
)

const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
)

// FileSize is a non-negative byte count.
type FileSize struct {
	bytes int64
}

func NewFileSize(n int64) (FileSize, error) {
	if n < 0 {
		return FileSize{}, sizeViolation("must not be negative", n)
	}
	return FileSize{bytes: n}, nil
}

// FileSizeFromFloat accepts decoded JSON numbers; NaN, infinities,
// fractions and negatives are rejected.
func FileSizeFromFloat(f float64) (FileSize, error) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return FileSize{}, sizeViolation("must be finite", fmt.Sprint(f))
	case f != math.Trunc(f):
		return FileSize{}, sizeViolation("must be a whole number of bytes", f)
	case f < 0:
		return FileSize{}, sizeViolation("must not be negative", f)
	case f > math.MaxInt64:
		return FileSize{}, sizeViolation("is out of range", f)
	}
	return FileSize{bytes: int64(f)}, nil
}

func sizeViolation(msg string, v any) error {
	return domain.NewValidationError(domain.Violation{
		Field: "fileSize", Code: domain.CodeInvalidFileSize, Message: msg, Value: v,
	})
}

func (s FileSize) Bytes() int64 { return s.bytes }

func (s FileSize) Exceeds(limit int64) bool { return s.bytes > limit }

func (s FileSize) String() string {
	switch {
	case s.bytes >= MiB:
		return fmt.Sprintf("%.2f MiB", float64(s.bytes)/float64(MiB))
	case s.bytes >= KiB:
		return fmt.Sprintf("%.2f KiB", float64(s.bytes)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", s.bytes)
	}
}
