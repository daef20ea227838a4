package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/ports/adapter"
)

var _ adapter.SourceFetcher = (*HTTPFetcher)(nil)

// HTTPFetcher downloads source images over http(s).
type HTTPFetcher struct {
	client *http.Client
	log    *zerolog.Logger
}

func NewHTTPFetcher(timeout time.Duration, logger *zerolog.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	l := logger.With().Str("component", "fetcher").Logger()
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, log: &l}
}

// Fetch returns the body and its media type. maxBytes <= 0 disables the limit.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", fmt.Errorf("source url %q: %w", rawURL, domain.ErrInvalidArgument)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", domain.NewDownloadError(rawURL, 0, err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", domain.NewDownloadError(rawURL, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", domain.NewDownloadError(rawURL, resp.StatusCode, nil)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, "", domain.NewDownloadError(rawURL, resp.StatusCode, tooLarge(maxBytes))
	}

	body := io.Reader(resp.Body)
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", domain.NewDownloadError(rawURL, resp.StatusCode, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", domain.NewDownloadError(rawURL, resp.StatusCode, tooLarge(maxBytes))
	}

	contentType := ""
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		contentType = mt
	}
	f.log.Debug().Str("url", u.Redacted()).Int("bytes", len(data)).Str("content_type", contentType).Msg("source downloaded")
	return data, contentType, nil
}

var errTooLarge = errors.New("response body too large")

func tooLarge(limit int64) error {
	return fmt.Errorf("%w: limit %d bytes", errTooLarge, limit)
}
