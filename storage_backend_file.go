package fevalgrid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend implements StorageBackend using the local filesystem.
type FileBackend struct {
	baseDir string
}

// NewFileBackend creates a new file-based storage backend.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	return &FileBackend{baseDir: filepath.Clean(absDir)}, nil
}

// safePath resolves key inside the base directory and rejects traversal.
func (f *FileBackend) safePath(key string) (string, error) {
	resolved := filepath.Clean(filepath.Join(f.baseDir, filepath.Clean(key)))
	if resolved != f.baseDir && !strings.HasPrefix(resolved, f.baseDir+string(os.PathSeparator)) {
		return "", newArgumentError("key", key, errors.New("path traversal attempt detected"))
	}
	return resolved, nil
}

func fileError(op StorageErrorType, message, path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return newStorageError(StorageErrorTypeNotFound, message, path, err)
	}
	return newStorageError(op, message, path, err)
}

func (f *FileBackend) Read(ctx context.Context, key string) ([]byte, error) {
	path, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileError(StorageErrorTypeRead, "cannot read file", path, err)
	}
	return data, nil
}

func (f *FileBackend) Write(ctx context.Context, key string, data []byte) error {
	w, err := f.Create(ctx, key)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.(*atomicFile).abort()
		return newStorageError(StorageErrorTypeWrite, "cannot write file", key, err)
	}
	return w.Close()
}

func (f *FileBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fileError(StorageErrorTypeRead, "cannot open file", path, err)
	}
	return fh, nil
}

// atomicFile writes to a temporary sibling and renames it into place on Close.
type atomicFile struct {
	*os.File
	path string
	done bool
}

func (a *atomicFile) Close() error {
	if a.done {
		return nil
	}
	a.done = true
	if err := a.File.Sync(); err != nil {
		a.File.Close()
		os.Remove(a.File.Name())
		return newStorageError(StorageErrorTypeWrite, "cannot sync file", a.path, err)
	}
	if err := a.File.Close(); err != nil {
		os.Remove(a.File.Name())
		return newStorageError(StorageErrorTypeWrite, "cannot close file", a.path, err)
	}
	if err := os.Rename(a.File.Name(), a.path); err != nil {
		os.Remove(a.File.Name())
		return newStorageError(StorageErrorTypeWrite, "cannot rename file", a.path, err)
	}
	return nil
}

func (a *atomicFile) abort() {
	if a.done {
		return
	}
	a.done = true
	a.File.Close()
	os.Remove(a.File.Name())
}

func (f *FileBackend) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	path, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, newStorageError(StorageErrorTypeWrite, "cannot create directory", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return nil, newStorageError(StorageErrorTypeWrite, "cannot create file", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, newStorageError(StorageErrorTypeWrite, "cannot create file", path, err)
	}
	return &atomicFile{File: tmp, path: path}, nil
}

func (f *FileBackend) Append(ctx context.Context, key string, data []byte) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return newStorageError(StorageErrorTypeWrite, "cannot create directory", path, err)
	}
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return newStorageError(StorageErrorTypeWrite, "cannot open file for append", path, err)
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return newStorageError(StorageErrorTypeWrite, "cannot append to file", path, err)
	}
	if err := fh.Close(); err != nil {
		return newStorageError(StorageErrorTypeWrite, "cannot close file", path, err)
	}
	return nil
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fileError(StorageErrorTypeWrite, "cannot delete file", path, err)
	}
	return nil
}

func (f *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == f.baseDir {
			return nil
		}
		rel, err := filepath.Rel(f.baseDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			// only descend where keys under rel can still match prefix
			if !strings.HasPrefix(prefix, rel+"/") && !strings.HasPrefix(rel, prefix) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, newStorageError(StorageErrorTypeRead, "cannot list directory", f.baseDir, err)
	}
	return keys, nil
}

func (f *FileBackend) Exists(ctx context.Context, key string) (bool, error) {
	path, err := f.safePath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (f *FileBackend) Close() error {
	return nil
}
