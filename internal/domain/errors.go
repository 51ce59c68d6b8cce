package domain

import "errors"

var (
	// ErrInvalidInput marks malformed records or out-of-range parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientData marks analyses that cannot run on the data provided.
	// Analyses normally degrade to an empty result with a reason instead.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNotFound is returned when a stored entity does not exist.
	ErrNotFound = errors.New("not found")
)
