package adapter

import "context"

// ObjectStorage stores opaque blobs under slash separated keys.
// Store returns the key the object was written to; every other method takes that key.
type ObjectStorage interface {
	Store(ctx context.Context, data []byte, directory, fileName string) (string, error)
	Retrieve(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	PublicURL(path string) string
	List(ctx context.Context, directory string) ([]string, error)
}
