package util

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes
var (
	// ErrUnsupported indicates a file format or operation is not supported
	ErrUnsupported = errors.New("unsupported")

	// ErrConflict indicates a destination file conflict
	ErrConflict = errors.New("destination conflict")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidArgument indicates a caller-supplied value is out of range
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermission indicates a permission error
	ErrPermission = errors.New("permission denied")

	// ErrDiskFull indicates insufficient disk space
	ErrDiskFull = errors.New("insufficient disk space")

	// ErrSourceMissing indicates the source root does not exist or is not a directory
	ErrSourceMissing = errors.New("source root missing")

	// ErrCapability indicates a required hashing or indexing capability is unavailable
	ErrCapability = errors.New("required capability unavailable")

	// ErrLocked indicates another writer holds the catalog lock
	ErrLocked = errors.New("catalog is locked by another run")

	// ErrCommit indicates the catalog batch transaction failed and was rolled back
	ErrCommit = errors.New("catalog commit failed")
)

// PreconditionError is returned when a run is aborted before any mutation
type PreconditionError struct {
	Check string
	Err   error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition %q failed: %v", e.Check, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// Precondition wraps err as a fatal precondition failure
func Precondition(check string, err error) error {
	return &PreconditionError{Check: check, Err: err}
}

// IsPrecondition reports whether err is (or wraps) a PreconditionError
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
