package models

import "fmt"

// ValidationError is an unsupported or unparseable URL. It is never retried.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid url %q: %s", e.Input, e.Reason)
}

// ResolutionError means the extraction tool failed or produced unusable metadata while walking a thread.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ExecutionError is a materialization failure for one URL.
type ExecutionError struct {
	URL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to download %s: %v", e.URL, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PersistenceError means a ledger or queue write did not reach disk.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
