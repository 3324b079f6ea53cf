package domain

import (
	"fmt"
)

// The chat pipeline distinguishes five failure classes. Classification and
// tool failures are recovered inside the pipeline and never surface as hard
// errors; the remaining three decide what the caller sees.

// ClassificationError means the LLM intent call errored or returned an
// unusable structure. The classifier recovers via its keyword fallback.
type ClassificationError struct {
	Cause error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("intent classification failed: %v", e.Cause)
}

func (e *ClassificationError) Unwrap() error { return e.Cause }

// ToolError means one retrieval tool errored or timed out. The executor
// records it on the tool's result and carries on with the others.
type ToolError struct {
	Tool  string
	Cause error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// GenerationError means every provider in the completion chain failed. The
// user receives a generic retry message instead of assistant text.
type GenerationError struct {
	Attempts int
	Cause    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("response generation failed after %d provider attempts: %v", e.Attempts, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// ValidationError rejects malformed input before the pipeline runs. Reason is
// safe to show to the client.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError means a session or message write failed. The generated
// response is still returned, flagged as not durably recorded.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
