package fevalgrid

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// StorageBackend defines where run logs, normalized streams and statistics
// tables are read from and written to. Keys are slash-separated paths
// relative to the backend root.
type StorageBackend interface {
	// Read reads a whole object.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write replaces an object.
	Write(ctx context.Context, key string, data []byte) error

	// Open streams an object.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Create streams a new object; it is visible once Close returns nil.
	Create(ctx context.Context, key string) (io.WriteCloser, error)

	// Append adds data to the end of an object, creating it if needed.
	Append(ctx context.Context, key string, data []byte) error

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// List returns all keys matching a prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// Ensure interfaces are implemented
var (
	_ StorageBackend = (*FileBackend)(nil)
	_ StorageBackend = (*S3Backend)(nil)
	_ StorageBackend = (*MemoryBackend)(nil)
	_ StorageBackend = (*EncryptedBackend)(nil)
)

// NewStorageBackend builds the backend selected by cfg.
func NewStorageBackend(ctx context.Context, cfg StorageConfig) (StorageBackend, error) {
	var (
		backend StorageBackend
		err     error
	)
	switch cfg.Kind {
	case "", "file":
		dir := cfg.BaseDir
		if dir == "" {
			dir = "."
		}
		backend, err = NewFileBackend(dir)
	case "memory":
		backend = NewMemoryBackend()
	case "s3":
		backend, err = NewS3Backend(ctx, cfg.S3)
	default:
		return nil, newArgumentError("storage.kind", cfg.Kind, fmt.Errorf("unknown backend"))
	}
	if err != nil {
		return nil, err
	}
	if cfg.Encryption != nil && cfg.Encryption.Enabled {
		return NewEncryptedBackend(backend, *cfg.Encryption)
	}
	return backend, nil
}

// bufferedObject collects a streamed write and hands it to commit on Close.
type bufferedObject struct {
	bytes.Buffer
	commit func(data []byte) error
	closed bool
}

func (b *bufferedObject) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.commit(b.Bytes())
}

func newBufferedObject(commit func(data []byte) error) *bufferedObject {
	return &bufferedObject{commit: commit}
}

// readAllFrom adapts a whole-object Read into a stream.
func readAllFrom(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}
