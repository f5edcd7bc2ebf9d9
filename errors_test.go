package fevalgrid

import (
	"errors"
	"fmt"
	"testing"
)

func TestArgumentError(t *testing.T) {
	err := newArgumentError("interval", "0", ErrInvalidInterval)
	if !errors.Is(err, ErrInvalidInterval) {
		t.Error("expected error to unwrap to ErrInvalidInterval")
	}
	if got, want := err.Error(), `invalid interval "0": interval must be a positive integer no larger than 2^61`; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	wrapped := fmt.Errorf("parse flags: %w", err)
	if !IsArgumentError(wrapped) {
		t.Error("expected wrapped error to be an argument error")
	}
	if IsArgumentError(errors.New("plain")) {
		t.Error("plain error should not be an argument error")
	}

	noValue := newArgumentError("run.log", "", errors.New("log file is required"))
	if got, want := noValue.Error(), "invalid run.log: log file is required"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStorageError(t *testing.T) {
	cause := errors.New("disk full")

	err := newStorageError(StorageErrorTypeWrite, "cannot write", "/data/file", cause)
	if err.Path != "/data/file" {
		t.Error("expected path to be preserved")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to unwrap to cause")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("write error should not match ErrNotFound")
	}
	if got, want := err.Error(), "cannot write [/data/file]: disk full"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	missing := newStorageError(StorageErrorTypeNotFound, "object missing", "", nil)
	if !errors.Is(missing, ErrNotFound) {
		t.Error("expected not found error to match ErrNotFound")
	}
	if missing.Error() != "object missing" {
		t.Errorf("unexpected message %q", missing.Error())
	}
}
