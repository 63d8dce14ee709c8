package retry

import (
	"errors"
	"fmt"
)

// Sentinel errors for retry operations.
var (
	// ErrRateLimited is wrapped by operations whose remote side throttled the call.
	ErrRateLimited = errors.New("retry: rate limited")

	// ErrThrottledExhausted matches an ExhaustedError whose last failure was throttling.
	ErrThrottledExhausted = errors.New("retry: rate limited, attempts exhausted")

	// ErrOtherExhausted matches an ExhaustedError whose last failure was any other error.
	ErrOtherExhausted = errors.New("retry: attempts exhausted")
)

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", e.sentinel(), e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the exhaustion sentinel for the failure kind.
func (e *ExhaustedError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ExhaustedError) sentinel() error {
	if e.Kind == KindRateLimited {
		return ErrThrottledExhausted
	}
	return ErrOtherExhausted
}
