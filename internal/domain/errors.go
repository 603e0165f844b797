package domain

import "errors"

// Common domain errors
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidRelpath = errors.New("invalid relative path")
	ErrPathEscape     = errors.New("path escapes storage root")
	ErrCancelled      = errors.New("cancelled")

	// Layout errors
	ErrLayoutNotFound    = errors.New("storage layout file not found")
	ErrLayoutInvalid     = errors.New("storage layout is invalid")
	ErrCategoryNotMapped = errors.New("category not configured")
	ErrMissingSource     = errors.New("source file missing")
	ErrSizeUnreadable    = errors.New("unable to read file size")
)
