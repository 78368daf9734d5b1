package completion

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable marks failures before the first byte was streamed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrStreamInterrupted marks failures after streaming began.
	ErrStreamInterrupted = errors.New("upstream stream interrupted")
)

// UpstreamError is a non-200 answer from a provider.
type UpstreamError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamUnavailable }
