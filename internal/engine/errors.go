package engine

import (
	"errors"
	"strings"
)

// Job-level errors. Each one short-circuits the pipeline; nothing downstream
// of the failing stage runs.
var (
	// ErrMissingInput means no job payload was provided at all.
	ErrMissingInput = errors.New("please provide input")

	// ErrInvalidPayload means the payload was a string that did not parse as
	// structured data.
	ErrInvalidPayload = errors.New("invalid JSON format in input")

	// ErrMissingWorkflow means the payload carried no workflow field.
	ErrMissingWorkflow = errors.New("missing 'workflow' parameter")

	// ErrInvalidImages means the images field was present but malformed.
	ErrInvalidImages = errors.New("'images' must be a list of objects with 'name' and 'image' keys")

	// ErrNoWorkflows means the workflow list parsed but was empty.
	ErrNoWorkflows = errors.New("no workflows provided")

	// ErrEngineUnavailable means the readiness budget was exhausted without
	// the engine ever answering healthy.
	ErrEngineUnavailable = errors.New("generation engine is not reachable")

	// ErrPollTimeout means the polling budget was exhausted with submissions
	// still pending. Artifacts already delivered for completed submissions
	// stay delivered.
	ErrPollTimeout = errors.New("max retries reached while waiting for image generation")
)

// IsValidationError reports whether err is a job-shape rejection, raised
// before any side effect.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingInput) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrMissingWorkflow) ||
		errors.Is(err, ErrInvalidImages) ||
		errors.Is(err, ErrNoWorkflows)
}

// StagingError aggregates per-image failures from input-asset staging.
// Images that did upload before the failures stand; staging is an idempotent
// overwrite keyed by name, so a retried job reconciles them.
type StagingError struct {
	Details []string
}

func (e *StagingError) Error() string {
	return "some images failed to upload: " + strings.Join(e.Details, "; ")
}
