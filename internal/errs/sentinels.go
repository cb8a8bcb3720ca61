// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Error taxonomy shared by the sync layer. Callers classify with errors.Is.
var (
	// ErrValidation indicates client-side input rejected before any remote call.
	ErrValidation = errors.New("validation failed")

	// ErrAuthentication indicates invalid credentials or an invalid session.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotAuthenticated indicates the operation requires a signed-in identity.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrFetch indicates a remote read failed.
	ErrFetch = errors.New("fetch failed")

	// ErrMutation indicates a remote write failed after local optimistic application.
	ErrMutation = errors.New("mutation failed")

	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)
