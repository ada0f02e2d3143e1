// Package errors defines the sentinel errors shared by the rangelock packages.
package errors

import "errors"

var (
	// ErrInvalidRange is returned when a range is inverted or falls outside
	// the bounds of the guarded sequence. No lock state is changed.
	ErrInvalidRange = errors.New("invalid range")
	ErrTimeout      = errors.New("timeout")
	ErrClosed       = errors.New("closed")
)
