package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates a failed permission check. Only the require-style
	// wrappers return it; bare checks report absence as a value.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput indicates a malformed or incomplete request.
	ErrInvalidInput = errors.New("invalid input")
)
