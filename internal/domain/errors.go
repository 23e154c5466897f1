package domain

import "errors"

// Error taxonomy. Adapters wrap these with %w so callers can branch with
// errors.Is while still carrying adapter-specific context in the message.
var (
	// Input-class: caller sent something the pipeline cannot accept.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupportedMIME = errors.New("unsupported mime type")
	ErrTooLarge        = errors.New("payload too large")

	// Data-class: stored state is missing or inconsistent.
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrDimMismatch   = errors.New("embedding dimension mismatch")
	ErrSchemaInvalid = errors.New("schema invalid")

	// Control-class: the caller must back off or retry.
	ErrRateLimited     = errors.New("rate limited")
	ErrBackpressure    = errors.New("queue back-pressure")
	ErrCanceled        = errors.New("canceled")

	// Upstream-class: a dependency failed or misbehaved.
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrUpstreamUnavail   = errors.New("upstream unavailable")

	// Fatal-class: internal invariant broken, not retryable.
	// ErrNotScorable means a match could not be computed because one side's
	// embeddings are missing; callers must return this sentinel rather than
	// fabricate a score.
	ErrNotScorable = errors.New("not scorable")

	ErrInternal = errors.New("internal error")
)
