package domain

import "errors"

var (
	// ErrPrivacyViolation means the batch cannot meet the k-anonymity floor.
	// Callers treat it as "no signal this cycle".
	ErrPrivacyViolation = errors.New("privacy violation: k-anonymity floor not met")

	// ErrInsufficientHistory means there is no previous analysis to compare against.
	ErrInsufficientHistory = errors.New("insufficient history")

	ErrInvalidInput        = errors.New("invalid input")
	ErrStaleRouteRequest   = errors.New("route is not due for update")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateBottleneck = errors.New("segment already has an unresolved bottleneck")
	ErrRouteConflict       = errors.New("route was updated concurrently")
)
