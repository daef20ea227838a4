package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ObjectStorage = (*LocalStore)(nil)

// LocalStore keeps objects under a root directory; keys are slash separated
// paths relative to it.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates root if needed. baseURL prefixes PublicURL and may be empty.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure root: %w", err)
	}
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Store(ctx context.Context, data []byte, directory, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := sanitizeKey(path.Join(directory, fileName))
	if err != nil {
		return "", err
	}
	full := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	// write then rename so readers never see a partial object
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: rename %s: %w", key, err)
	}
	return key, nil
}

func (s *LocalStore) Retrieve(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := sanitizeKey(p)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.fullPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("storage: %s: %w", key, domain.ErrNotFound)
	}
	return b, err
}

// Delete ignores objects that are already gone.
func (s *LocalStore) Delete(ctx context.Context, p string) error {
	key, err := sanitizeKey(p)
	if err != nil {
		return err
	}
	if err := os.Remove(s.fullPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, p string) (bool, error) {
	key, err := sanitizeKey(p)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(s.fullPath(key))
	switch {
	case err == nil:
		return !info.IsDir(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *LocalStore) PublicURL(p string) string {
	if s.baseURL == "" {
		return "/files/" + strings.TrimLeft(p, "/")
	}
	return s.baseURL + "/" + strings.TrimLeft(p, "/")
}

// List walks directory recursively and returns sorted keys.
func (s *LocalStore) List(ctx context.Context, directory string) ([]string, error) {
	key, err := sanitizeKey(directory)
	if err != nil {
		return nil, err
	}
	base := s.fullPath(key)
	var out []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", key, err)
	}
	sort.Strings(out)
	return out, nil
}

// Root is exposed for the file server in dev setups.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) fullPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("storage: key is required: %w", domain.ErrInvalidArgument)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("storage: invalid key %q: %w", key, domain.ErrInvalidArgument)
	}
	return cleaned, nil
}
