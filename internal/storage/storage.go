package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when no object exists at a key
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for keys that are not a plain file name
	ErrInvalidKey = errors.New("invalid key")
)

// Reader provides read access to stored content
type Reader interface {
	// GetReader returns a reader for the content at the given key
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if content exists at the given key
	Exists(ctx context.Context, key string) (bool, error)
}

// Writer provides write access to stored content
type Writer interface {
	// Put stores r under key, replacing any previous object, and returns its path
	Put(ctx context.Context, key string, r io.Reader) (string, error)

	// Delete removes the object at key; missing objects are not an error
	Delete(ctx context.Context, key string) error
}

// Metadata contains storage object metadata
type Metadata struct {
	Size        int64
	ContentType string
	ETag        string
}

// ReaderWithMetadata provides read access with metadata
type ReaderWithMetadata interface {
	Reader

	// GetMetadata returns metadata for content at the given key
	GetMetadata(ctx context.Context, key string) (*Metadata, error)
}

// Store is a flat, filename-addressed object store
type Store interface {
	ReaderWithMetadata
	Writer

	// Path resolves key to its location on disk
	Path(key string) (string, error)
}
