package errors

import (
	"fmt"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Reasons carried on Kratos errors. The HTTP encoder renders the message as
// "error" and the "details" metadata entry when present.
const (
	ReasonUnauthenticated = "UNAUTHENTICATED"
	ReasonValidation      = "VALIDATION_FAILED"
	ReasonNotFound        = "NOT_FOUND"
	ReasonUpstream        = "UPSTREAM_FAILURE"
	ReasonInternal        = "INTERNAL"
	ReasonRateLimited     = "RATE_LIMITED"
)

func Unauthenticated(msg string) *kerrors.Error {
	return kerrors.Unauthorized(ReasonUnauthenticated, msg)
}

func Validation(format string, args ...interface{}) *kerrors.Error {
	return kerrors.BadRequest(ReasonValidation, fmt.Sprintf(format, args...))
}

func NotFound(msg string) *kerrors.Error {
	return kerrors.NotFound(ReasonNotFound, msg)
}

func RateLimited(msg string) *kerrors.Error {
	return kerrors.New(429, ReasonRateLimited, msg)
}

// Upstream reports a provider failure that could not be recovered. The
// provider's own error text goes into details.
func Upstream(msg string, cause error) *kerrors.Error {
	e := kerrors.InternalServer(ReasonUpstream, msg)
	if cause != nil {
		e = e.WithMetadata(map[string]string{"details": cause.Error()}).WithCause(cause)
	}
	return e
}

// Internal wraps an unexpected failure, keeping its text as details.
func Internal(msg string, cause error) *kerrors.Error {
	e := kerrors.InternalServer(ReasonInternal, msg)
	if cause != nil {
		e = e.WithMetadata(map[string]string{"details": cause.Error()}).WithCause(cause)
	}
	return e
}
