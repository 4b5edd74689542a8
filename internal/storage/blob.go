// Package storage defines the blob store used for page snapshots. The
// abstraction keeps the crawl pipeline independent of where snapshots
// land (Google Cloud Storage, the local filesystem, or nowhere at all).
package storage

import (
	"context"
	"io"
)

// BlobStore writes a fetched page body under a path and returns the URI
// where it can be retrieved later.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoopBlobStore discards snapshots. It backs the dry-run configuration
// where pages are fetched and parsed but never archived.
type NoopBlobStore struct{}

// PutObject does nothing and returns an empty URI.
func (NoopBlobStore) PutObject(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}
