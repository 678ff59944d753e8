// Package apperr holds the service-level error kinds that transports map to
// status codes.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrBusy     = errors.New("busy: a commit is in progress")
	ErrInvalid  = errors.New("invalid argument")
)
