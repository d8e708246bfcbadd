package classifier

import (
	"context"
	"errors"
)

var (
	ErrRateLimited     = errors.New("classifier rate limited")
	ErrTimeout         = errors.New("classifier inference timeout")
	ErrUnavailable     = errors.New("classifier unavailable")
	ErrInvalidResponse = errors.New("classifier returned invalid response")
)

// Taxonomy codes surfaced on the job status projection. The first three are
// retryable; an invalid response is not and carries its own code so the
// projection's code and retryable fields never disagree.
const (
	CodeRateLimited     = "AI_RATE_LIMITED"
	CodeTimeout         = "AI_TIMEOUT"
	CodeUnavailable     = "AI_SERVICE_UNAVAILABLE"
	CodeInvalidResponse = "AI_INVALID_RESPONSE"
)

// Code maps a classify failure to its taxonomy code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrInvalidResponse):
		return CodeInvalidResponse
	default:
		return CodeUnavailable
	}
}

// IsRetryable reports whether a later start call may safely resume after err.
// Malformed provider output is not transient, everything else in the
// taxonomy is.
func IsRetryable(err error) bool {
	return !errors.Is(err, ErrInvalidResponse)
}
