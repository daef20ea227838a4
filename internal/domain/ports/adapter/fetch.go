package adapter

import "context"

// SourceFetcher downloads a remote source image.
// Non-2xx answers are reported as *domain.DownloadError.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string, maxBytes int64) ([]byte, string, error)
}
