package llm

import "errors"

var (
	// ErrCompletion is returned when a completion call fails.
	ErrCompletion = errors.New("completion failed")

	// ErrConnection is returned when the provider is unreachable.
	ErrConnection = errors.New("llm provider connection failed")
)
