// Package svcerr carries the coded service errors shared by the domain packages.
package svcerr

import (
	"errors"
	"fmt"
)

// Error pairs a stable machine-readable code with the underlying cause.
// Codes take the form "<package>.<operation>.<reason>".
type Error struct {
	code string
	err  error
}

// New builds a coded error for the operation and reason.
func New(operation, reason string, cause error) error {
	return &Error{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the error code.
func (e *Error) Code() string {
	return e.code
}

// CodeOf extracts the code of the first *Error in the chain, or "" when there is none.
func CodeOf(err error) string {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.code
	}
	return ""
}
