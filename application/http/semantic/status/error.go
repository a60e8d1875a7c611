package status

import (
	"fmt"
)

// Error is a response status treated as an error.
type Error struct {
	cause  error
	Status Status
}

func NewError(err error, status Status) Error {
	return Error{cause: err, Status: status}
}

func (e Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%d %s", e.Status.Code, e.Status.ReasonPhrase)
	}

	return fmt.Sprintf(
		"%d %s: %q", e.Status.Code, e.Status.ReasonPhrase, e.cause.Error(),
	)
}

func (e Error) Cause() error {
	return e.cause
}

func (e Error) Unwrap() error {
	return e.cause
}
