package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps storage failures crossing the engine boundary.
	// The engine never retries; retry policy belongs to the caller.
	ErrPersistence = errors.New("persistence failure")
	// ErrVersionConflict indicates a concurrent update raced this one.
	// The obligation was left unmodified; reload and retry.
	ErrVersionConflict = errors.New("version conflict")
)
