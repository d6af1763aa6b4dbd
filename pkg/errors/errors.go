// Package errors provides common domain error types for the caravel engine.
//
// This package defines sentinel errors for domain conditions like "not found"
// or "ambiguous link" that can be used across all packages. Using typed
// errors enables consistent error handling patterns with errors.Is() checks.
//
// Usage:
//
//	import cverrors "github.com/caravelhq/caravel-cli/pkg/errors"
//
//	// Return a domain error
//	return nil, cverrors.ErrNotFound
//
//	// Check for domain errors
//	if cverrors.IsAmbiguousLink(err) {
//	    // flag for manual review
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate key).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input or validation failure. Identifier
	// normalization never propagates this upward; it is reserved for malformed
	// configuration and request input.
	ErrValidation = errors.New("validation error")

	// ErrAmbiguousLink indicates a link cascade step matched more than one
	// shipment. The document stays orphaned and is flagged for manual review;
	// the engine never resolves ambiguity by guessing.
	ErrAmbiguousLink = errors.New("ambiguous link: multiple candidate shipments")

	// ErrClassificationFailed indicates patterns and the AI classifier were
	// both inconclusive. Non-fatal: the document degrades to
	// general_correspondence and can be reclassified later.
	ErrClassificationFailed = errors.New("classification failed")

	// ErrStoreUnavailable indicates a transient store outage. Batch steps
	// retry with backoff and abort only after exhausting retries.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsAmbiguousLink reports whether any error in err's chain is ErrAmbiguousLink.
func IsAmbiguousLink(err error) bool {
	return errors.Is(err, ErrAmbiguousLink)
}

// IsClassificationFailed reports whether any error in err's chain is ErrClassificationFailed.
func IsClassificationFailed(err error) bool {
	return errors.Is(err, ErrClassificationFailed)
}

// IsStoreUnavailable reports whether any error in err's chain is ErrStoreUnavailable.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
