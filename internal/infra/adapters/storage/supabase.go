package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ObjectStorage = (*SupabaseStore)(nil)

// bucketAPI is the part of the storage-go client the store uses.
type bucketAPI interface {
	UploadFile(bucketId string, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	DownloadFile(bucketId string, filePath string, urlOptions ...storage_go.UrlOptions) ([]byte, error)
	RemoveFile(bucketId string, paths []string) ([]storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketId string, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
	ListFiles(bucketId string, queryPath string, options storage_go.FileSearchOptions) ([]storage_go.FileObject, error)
}

// SupabaseStore keeps objects in one Supabase Storage bucket.
type SupabaseStore struct {
	api    bucketAPI
	bucket string
}

func NewSupabaseStore(url, key, bucket string) (*SupabaseStore, error) {
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return newSupabaseStore(client.Storage, bucket), nil
}

func newSupabaseStore(api bucketAPI, bucket string) *SupabaseStore {
	return &SupabaseStore{api: api, bucket: bucket}
}

func (s *SupabaseStore) Store(ctx context.Context, data []byte, directory, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := sanitizeKey(path.Join(directory, fileName))
	if err != nil {
		return "", err
	}
	upsert := true
	contentType := contentTypeFor(key)
	_, err = s.api.UploadFile(s.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("supabase upload %s: %w", key, err)
	}
	return key, nil
}

func (s *SupabaseStore) Retrieve(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := sanitizeKey(p)
	if err != nil {
		return nil, err
	}
	b, err := s.api.DownloadFile(s.bucket, key)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("supabase %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("supabase download %s: %w", key, err)
	}
	return b, nil
}

func (s *SupabaseStore) Delete(ctx context.Context, p string) error {
	key, err := sanitizeKey(p)
	if err != nil {
		return err
	}
	if _, err := s.api.RemoveFile(s.bucket, []string{key}); err != nil && !isNotFound(err) {
		return fmt.Errorf("supabase remove %s: %w", key, err)
	}
	return nil
}

func (s *SupabaseStore) Exists(ctx context.Context, p string) (bool, error) {
	key, err := sanitizeKey(p)
	if err != nil {
		return false, err
	}
	dir, name := path.Split(key)
	files, err := s.api.ListFiles(s.bucket, strings.TrimSuffix(dir, "/"), storage_go.FileSearchOptions{Limit: 1000})
	if err != nil {
		return false, fmt.Errorf("supabase list %s: %w", dir, err)
	}
	for _, f := range files {
		if f.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *SupabaseStore) PublicURL(p string) string {
	return s.api.GetPublicUrl(s.bucket, strings.TrimLeft(p, "/")).SignedURL
}

// List returns the objects directly under directory plus one level of
// variant folders, which is as deep as the pipeline writes.
func (s *SupabaseStore) List(ctx context.Context, directory string) ([]string, error) {
	key, err := sanitizeKey(directory)
	if err != nil {
		return nil, err
	}
	return s.list(key, 2)
}

func (s *SupabaseStore) list(dir string, depth int) ([]string, error) {
	files, err := s.api.ListFiles(s.bucket, dir, storage_go.FileSearchOptions{Limit: 1000})
	if err != nil {
		return nil, fmt.Errorf("supabase list %s: %w", dir, err)
	}
	var out []string
	for _, f := range files {
		full := path.Join(dir, f.Name)
		// folders come back without an id
		if f.Id == "" {
			if depth > 1 {
				sub, err := s.list(full, depth-1)
				if err != nil {
					return nil, err
				}
				out = append(out, sub...)
			}
			continue
		}
		out = append(out, full)
	}
	return out, nil
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".webp":
		return "image/webp"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}
