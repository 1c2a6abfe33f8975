package pipeline

import "fmt"

// ValidationError rejects an upload before any record exists. It is the only
// failure with no durable side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateError rejects an upload whose content hash already exists for the
// same owner. Raised before a new record is created.
type DuplicateError struct {
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate file: already uploaded as record %s", e.ExistingID)
}

// StageError wraps a stage-service failure together with the stage that
// raised it. Recorded on the upload record, never returned to the uploader.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
