package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrPermissionDenied - a policy hook rejected the action (fed back to the agent as an error tool result)
	ErrPermissionDenied = errors.New("permission denied")

	// ErrApprovalRequired - a hard approval constraint has no granted approval yet
	ErrApprovalRequired = errors.New("approval required")

	// ErrUnauthorized - the caller's credentials or trust level do not admit the operation
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput - malformed request, arguments, or payload
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrConflict - concurrent writers collided; retry is reasonable
	ErrConflict = errors.New("conflict")

	// ErrConfiguration - project or runtime configuration is unusable; never resolved silently
	ErrConfiguration = errors.New("configuration error")

	// ErrTransient - temporary failure (network, rate limit); retry with backoff
	ErrTransient = errors.New("transient error")

	// ErrInvalidModelOutput - model returned malformed structured output
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrInternal - unclassified internal failure
	ErrInternal = errors.New("internal error")
)
