package fevalgrid

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the fevalgrid package.
var (
	// ErrInvalidInterval is returned when the grid interval is not positive.
	ErrInvalidInterval = errors.New("interval must be a positive integer no larger than 2^61")

	// ErrInvalidFinal is returned when the final grid horizon is negative.
	ErrInvalidFinal = errors.New("final must be a non-negative integer no larger than 2^61")

	// ErrNoInput is returned when a required input location is missing.
	ErrNoInput = errors.New("no input file given")

	// ErrNotFound is returned when a storage key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMissingExecutable is returned when the simulation executable cannot be located.
	ErrMissingExecutable = errors.New("simulation executable not found")

	// ErrDecrypt is returned when a sealed object cannot be opened.
	ErrDecrypt = errors.New("cannot decrypt object")
)

// ArgumentError reports a bad command-line or configuration argument.
// Callers should print usage and produce no partial output.
type ArgumentError struct {
	Name  string
	Value string
	Cause error
}

func (e *ArgumentError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %v", e.Name, e.Value, e.Cause)
	}
	return fmt.Sprintf("invalid %s: %v", e.Name, e.Cause)
}

func (e *ArgumentError) Unwrap() error {
	return e.Cause
}

func newArgumentError(name, value string, cause error) *ArgumentError {
	return &ArgumentError{Name: name, Value: value, Cause: cause}
}

// IsArgumentError reports whether err stems from a bad argument.
func IsArgumentError(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}

// StorageErrorType categorizes storage errors.
type StorageErrorType int

const (
	// StorageErrorTypeUnknown is an unclassified storage error.
	StorageErrorTypeUnknown StorageErrorType = iota
	// StorageErrorTypeRead indicates a read failure.
	StorageErrorTypeRead
	// StorageErrorTypeWrite indicates a write failure.
	StorageErrorTypeWrite
	// StorageErrorTypeNotFound indicates a missing object.
	StorageErrorTypeNotFound
)

// StorageError provides detailed information about storage failures.
type StorageError struct {
	Type    StorageErrorType
	Message string
	Path    string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s [%s]: %v", e.Message, e.Path, e.Cause)
		}
		return fmt.Sprintf("%s [%s]", e.Message, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for StorageError.
func (e *StorageError) Is(target error) bool {
	return e.Type == StorageErrorTypeNotFound && target == ErrNotFound
}

func newStorageError(errType StorageErrorType, message, path string, cause error) *StorageError {
	return &StorageError{
		Type:    errType,
		Message: message,
		Path:    path,
		Cause:   cause,
	}
}
