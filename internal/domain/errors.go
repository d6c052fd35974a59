package domain

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when a run for the same key is already executing.
var ErrRunInProgress = errors.New("run already in progress for partition key")

// ErrAlreadyLoaded marks a bulk copy that processed no file because the
// warehouse's load history already lists the staged object. The rows may be
// in the table from an earlier attempt whose acknowledgement was lost.
var ErrAlreadyLoaded = errors.New("staged object already in warehouse load history")

// ErrMissingField marks a provider response that lacks a required field.
var ErrMissingField = errors.New("missing required field")

// ExtractionError wraps network, parse and schema failures of the Extractor.
type ExtractionError struct {
	Op  string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction: %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StagingError wraps local file and upload transport failures of the Stager.
type StagingError struct {
	Op  string
	Err error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging: %s: %v", e.Op, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// LoadError wraps warehouse and schema-mismatch failures of the Loader.
type LoadError struct {
	Op  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load: %s: %v", e.Op, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RunError is the terminal failure of a run after a stage exhausted its retries.
type RunError struct {
	Key      PartitionKey
	Stage    Stage
	Attempts int
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed in %s after %d attempt(s): %v", e.Key, e.Stage, e.Attempts, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
