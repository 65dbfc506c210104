package catalog

import "errors"

var (
	// ErrServiceNotFound is returned when the named service has no catalog entry.
	ErrServiceNotFound = errors.New("service not found in catalog")

	// ErrInvalidEntry is returned when a record cannot be stored.
	ErrInvalidEntry = errors.New("invalid catalog entry")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("database error")
)
