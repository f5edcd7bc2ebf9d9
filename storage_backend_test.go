package fevalgrid

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func exerciseBackend(t *testing.T, backend StorageBackend) {
	t.Helper()
	ctx := context.Background()

	if err := backend.Write(ctx, "runs/key1", []byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := backend.Read(ctx, "runs/key1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected 'hello', got '%s'", data)
	}

	if err := backend.Append(ctx, "runs/key1", []byte(" world")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := backend.Append(ctx, "runs/new", []byte("fresh")); err != nil {
		t.Fatalf("Append to new key failed: %v", err)
	}

	rc, err := backend.Open(ctx, "runs/key1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	streamed, _ := io.ReadAll(rc)
	rc.Close()
	if string(streamed) != "hello world" {
		t.Errorf("expected 'hello world', got '%s'", streamed)
	}

	wc, err := backend.Create(ctx, "out/table.tsv")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	io.WriteString(wc, "a\tb\n")
	if err := wc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if data, _ := backend.Read(ctx, "out/table.tsv"); string(data) != "a\tb\n" {
		t.Errorf("unexpected created object %q", data)
	}

	keys, err := backend.List(ctx, "runs/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}

	exists, err := backend.Exists(ctx, "runs/key1")
	if err != nil || !exists {
		t.Errorf("expected key to exist, got %v %v", exists, err)
	}
	if err := backend.Delete(ctx, "runs/key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if exists, _ = backend.Exists(ctx, "runs/key1"); exists {
		t.Error("expected key to be deleted")
	}
	if _, err := backend.Read(ctx, "runs/key1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileBackend(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	exerciseBackend(t, backend)
}

func TestMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend()
	exerciseBackend(t, backend)
	keys, err := backend.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "out/table.tsv" || keys[1] != "runs/new" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestFileBackendListPrefix(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, k := range []string{"fit.log", "fit.norm.tsv", "fitness.log", "other.log", "runs/fit.log"} {
		if err := backend.Write(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Write %s failed: %v", k, err)
		}
	}
	// an unreadable sibling directory must not break a listing it cannot match
	locked := filepath.Join(dir, "locked")
	if err := os.Mkdir(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(locked, 0o755)

	keys, err := backend.List(ctx, "fit")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"fit.log", "fit.norm.tsv", "fitness.log"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("got %v, want %v", keys, want)
		}
	}

	keys, err = backend.List(ctx, "runs/f")
	if err != nil || len(keys) != 1 || keys[0] != "runs/fit.log" {
		t.Errorf("unexpected nested listing %v, %v", keys, err)
	}
}

func TestFileBackendRejectsTraversal(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Read(context.Background(), "../../etc/passwd"); !IsArgumentError(err) {
		t.Errorf("expected argument error, got %v", err)
	}
}

func TestFileBackendCreateIsAtomic(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	wc, err := backend.Create(context.Background(), "out.tsv")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(wc, "partial")
	if _, err := os.Stat(filepath.Join(dir, "out.tsv")); !os.IsNotExist(err) {
		t.Errorf("output visible before Close: %v", err)
	}
	AbortOutput(wc)
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files after abort, got %d", len(entries))
	}
}

func TestNewStorageBackend(t *testing.T) {
	ctx := context.Background()
	b, err := NewStorageBackend(ctx, StorageConfig{Kind: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*MemoryBackend); !ok {
		t.Errorf("expected memory backend, got %T", b)
	}

	b, err = NewStorageBackend(ctx, StorageConfig{
		Kind:       "memory",
		Encryption: &EncryptionConfig{Enabled: true, Key: make([]byte, EncryptionKeySize)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*EncryptedBackend); !ok {
		t.Errorf("expected encrypted backend, got %T", b)
	}

	if _, err := NewStorageBackend(ctx, StorageConfig{Kind: "s3"}); !IsArgumentError(err) {
		t.Errorf("expected argument error for s3 without bucket, got %v", err)
	}
	if _, err := NewStorageBackend(ctx, StorageConfig{Kind: "tape"}); !IsArgumentError(err) {
		t.Errorf("expected argument error for unknown kind, got %v", err)
	}
}
