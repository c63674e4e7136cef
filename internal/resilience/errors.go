package resilience

import (
	"context"
	"errors"
	"strings"
)

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is worth another attempt: an explicit
// TransientError, a per-attempt deadline, or a known flaky output pattern
// from a subprocess.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return TransientOutput(err.Error())
}

// TransientOutput reports whether subprocess output contains a known flaky
// failure pattern.
func TransientOutput(out string) bool {
	msg := strings.ToLower(out)
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"connection refused",
	"i/o timeout",
	"signal: killed",
	"resource temporarily unavailable",
}
