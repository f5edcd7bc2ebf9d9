package fevalgrid

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/snappy"
)

// SnappyExt marks locations stored with snappy stream framing.
const SnappyExt = ".sz"

// Location names an input or output: a local path or s3://bucket/key.
type Location struct {
	Bucket string
	Key    string
	Path   string
}

// ParseLocation parses a command-line location.
func ParseLocation(s string) (Location, error) {
	if s == "" {
		return Location{}, newArgumentError("location", s, ErrNoInput)
	}
	if rest, ok := strings.CutPrefix(s, "s3://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Location{}, newArgumentError("location", s, errors.New("expected s3://bucket/key"))
		}
		return Location{Bucket: bucket, Key: key}, nil
	}
	return Location{Path: s}, nil
}

// IsS3 reports whether the location is in S3.
func (l Location) IsS3() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.IsS3() {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Path
}

// Sibling returns a location next to l with the last element replaced.
func (l Location) Sibling(name string) Location {
	if l.IsS3() {
		return Location{Bucket: l.Bucket, Key: path.Join(path.Dir(l.Key), name)}
	}
	return Location{Path: filepath.Join(filepath.Dir(l.Path), name)}
}

// Resolver maps locations onto storage backends following a StorageConfig.
//
// s3://bucket/key locations always go to S3, with the credentials of the
// config and no key prefix. Plain paths follow Kind: "file" roots relative
// paths at BaseDir, "s3" stores them as keys under the configured bucket
// and prefix, and "memory" keeps them in one in-memory backend shared by
// every location the resolver hands out.
type Resolver struct {
	cfg StorageConfig

	mu  sync.Mutex
	mem StorageBackend
}

// NewResolver returns a resolver for cfg.
func NewResolver(cfg StorageConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns a backend holding l and the key of l inside it. Callers
// close the backend when done; closing a shared memory backend keeps its
// objects.
func (r *Resolver) Resolve(ctx context.Context, l Location) (StorageBackend, string, error) {
	if l.IsS3() {
		sc := StorageConfig{Kind: "s3", S3: r.cfg.S3, Encryption: r.cfg.Encryption}
		sc.S3.Bucket = l.Bucket
		sc.S3.Prefix = ""
		backend, err := NewStorageBackend(ctx, sc)
		if err != nil {
			return nil, "", err
		}
		return backend, l.Key, nil
	}

	switch r.cfg.Kind {
	case "memory":
		backend, err := r.memory(ctx)
		if err != nil {
			return nil, "", err
		}
		return backend, objectKey(l.Path), nil
	case "s3":
		backend, err := NewStorageBackend(ctx, r.cfg)
		if err != nil {
			return nil, "", err
		}
		return backend, objectKey(l.Path), nil
	default:
		p := r.rooted(l).Path
		sc := StorageConfig{Kind: "file", BaseDir: filepath.Dir(p), Encryption: r.cfg.Encryption}
		backend, err := NewStorageBackend(ctx, sc)
		if err != nil {
			return nil, "", err
		}
		return backend, filepath.Base(p), nil
	}
}

// rooted returns l as it is stored: relative local paths of the file kind
// are joined onto BaseDir.
func (r *Resolver) rooted(l Location) Location {
	if l.IsS3() || filepath.IsAbs(l.Path) || r.cfg.BaseDir == "" {
		return l
	}
	if r.cfg.Kind != "" && r.cfg.Kind != "file" {
		return l
	}
	return Location{Path: filepath.Join(r.cfg.BaseDir, l.Path)}
}

func (r *Resolver) memory(ctx context.Context) (StorageBackend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		backend, err := NewStorageBackend(ctx, r.cfg)
		if err != nil {
			return nil, err
		}
		r.mem = backend
	}
	return r.mem, nil
}

// objectKey turns a plain path into a slash-separated object key.
func objectKey(p string) string {
	return strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), "/")
}

type snappyReadCloser struct {
	*snappy.Reader
	under io.Closer
}

func (s snappyReadCloser) Close() error {
	return s.under.Close()
}

type snappyWriteCloser struct {
	*snappy.Writer
	under io.Closer
}

func (s snappyWriteCloser) Close() error {
	if err := s.Writer.Close(); err != nil {
		s.under.Close()
		return err
	}
	return s.under.Close()
}

// OpenInput opens key for streaming, decoding snappy framing for keys ending
// in SnappyExt.
func OpenInput(ctx context.Context, backend StorageBackend, key string) (io.ReadCloser, error) {
	rc, err := backend.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(key, SnappyExt) {
		return snappyReadCloser{Reader: snappy.NewReader(rc), under: rc}, nil
	}
	return rc, nil
}

// CreateOutput creates key for streaming, encoding snappy framing for keys
// ending in SnappyExt.
func CreateOutput(ctx context.Context, backend StorageBackend, key string) (io.WriteCloser, error) {
	wc, err := backend.Create(ctx, key)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(key, SnappyExt) {
		return snappyWriteCloser{Writer: snappy.NewBufferedWriter(wc), under: wc}, nil
	}
	return wc, nil
}
