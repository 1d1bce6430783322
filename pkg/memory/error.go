package memory

import "errors"

var (
	// ErrInvalidInput marks caller mistakes (empty span, malformed filter).
	// Never retried automatically.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransient marks provider timeouts and 5xx failures. Retried once
	// with backoff, then degraded rather than propagated to turn delivery.
	ErrTransient = errors.New("transient provider failure")

	// ErrInconsistent marks a vector/structured store mismatch detected at
	// read time. The structured store wins; the stale side is repaired.
	ErrInconsistent = errors.New("store consistency violation")

	// ErrConflict marks lock contention or an already-compacted range.
	ErrConflict = errors.New("concurrency conflict")
)
