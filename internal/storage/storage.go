package storage

import (
	"context"
	"errors"
	"path"
)

// Package storage contains the blob storage collaborator: file content addressed
// by (document id, container). Backends: MinIO/S3, Azure Blob and an in-memory store.

// ErrNotFound is returned by Read when no content exists for the key.
var ErrNotFound = errors.New("blob not found")

// Storage reads and writes document content.
type Storage interface {
	// Upload replaces the content of id in container and returns a locator for the stored blob.
	Upload(ctx context.Context, id, container string, data []byte) (string, error)
	// Read returns the full content of id in container.
	Read(ctx context.Context, id, container string) ([]byte, error)
	// Delete removes the content; the bool reports whether a blob was removed.
	Delete(ctx context.Context, id, container string) (bool, error)
}

// ObjectKey is the blob name used for a document: "<container>/<id>".
func ObjectKey(id, container string) string {
	return path.Join(container, id)
}
