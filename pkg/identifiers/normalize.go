// Package identifiers canonicalizes carrier-issued shipment identifiers.
//
// Booking numbers, bill-of-lading numbers, and container numbers arrive from
// email bodies and OCR'd attachments in wildly inconsistent shapes. This
// package is the single place where a raw string becomes (or fails to become)
// a canonical identifier. Callers must treat a false return as "no usable
// identifier", never as an error.
package identifiers

import (
	"regexp"
	"strings"
)

// Kind selects which identifier family normalization rules apply to.
type Kind string

const (
	KindBooking   Kind = "booking"
	KindBL        Kind = "bl"
	KindContainer Kind = "container"
)

var (
	// containerPattern is the ISO 6346 shape: 4 letters (owner code +
	// equipment category) followed by 6 serial digits and a check digit.
	// Some feeds omit the check digit, so 6 digits is accepted too.
	containerPattern = regexp.MustCompile(`^[A-Z]{4}\d{6,7}$`)

	// bookingShapedPattern matches carrier booking references that look
	// almost like container numbers (4 letters + 9 or more digits). These
	// leak into container fields constantly and must be rejected outright
	// rather than truncated or accepted.
	bookingShapedPattern = regexp.MustCompile(`^[A-Z]{4}\d{9,}$`)
)

// Normalize canonicalizes raw according to kind. It returns the canonical
// value and true, or "" and false when the input is empty, malformed, or
// shaped like a different identifier family. It never panics.
func Normalize(raw string, kind Kind) (string, bool) {
	switch kind {
	case KindContainer:
		return normalizeContainer(raw)
	case KindBooking, KindBL:
		return normalizeOpaque(raw)
	default:
		return "", false
	}
}

// normalizeContainer strips separators, uppercases, and validates the ISO
// 6346 shape. Booking-shaped values are explicitly rejected.
func normalizeContainer(raw string) (string, bool) {
	cleaned := strings.ToUpper(stripSeparators(raw))
	if cleaned == "" {
		return "", false
	}
	if bookingShapedPattern.MatchString(cleaned) {
		return "", false
	}
	if !containerPattern.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}

// normalizeOpaque trims and uppercases only. Booking and BL formats vary too
// much across carriers for structural validation; callers must treat the
// result as an opaque string.
func normalizeOpaque(raw string) (string, bool) {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	if cleaned == "" {
		return "", false
	}
	return cleaned, true
}

// stripSeparators removes whitespace and hyphens anywhere in s.
func stripSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
