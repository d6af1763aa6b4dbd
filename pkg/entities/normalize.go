package entities

import (
	"fmt"
	"strings"

	"github.com/araddon/dateparse"
	"golang.org/x/text/unicode/norm"

	"github.com/caravelhq/caravel-cli/pkg/identifiers"
)

// NormalizeValue canonicalizes one raw extracted value for its entity type.
// The returned error describes why a value was rejected; it is audit
// material, never propagated as a failure.
func NormalizeValue(t Type, raw string) (string, error) {
	switch t {
	case TypeBookingNumber:
		return normalizeIdentifier(raw, identifiers.KindBooking)
	case TypeBLNumber:
		return normalizeIdentifier(raw, identifiers.KindBL)
	case TypeContainerNumber:
		return normalizeIdentifier(raw, identifiers.KindContainer)
	case TypeETD, TypeETA, TypeSICutoff, TypeVGMCutoff, TypeCYCutoff:
		return normalizeDate(raw)
	case TypeVesselName, TypePortOfLoading, TypePortOfDischarge,
		TypeShipperName, TypeConsigneeName:
		return normalizeName(raw)
	case TypeVoyageNumber, TypeJobNumber, TypePONumber, TypeCustomsReference:
		return normalizeReference(raw)
	default:
		return "", fmt.Errorf("unknown entity type %q", t)
	}
}

func normalizeIdentifier(raw string, kind identifiers.Kind) (string, error) {
	value, ok := identifiers.Normalize(raw, kind)
	if !ok {
		return "", fmt.Errorf("malformed %s identifier", kind)
	}
	return value, nil
}

// normalizeDate parses the many date shapes carriers emit ("2026-03-14",
// "14/03/2026 17:00", "Mar 14, 2026") into ISO 8601. Date-only inputs stay
// date-only; anything with a time component keeps it.
func normalizeDate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty date")
	}
	parsed, err := dateparse.ParseAny(trimmed)
	if err != nil {
		return "", fmt.Errorf("unparseable date %q", trimmed)
	}
	if parsed.Hour() == 0 && parsed.Minute() == 0 && parsed.Second() == 0 {
		return parsed.Format("2006-01-02"), nil
	}
	return parsed.Format("2006-01-02T15:04:05"), nil
}

// normalizeName applies NFKC folding (full-width characters from Asian
// carrier systems are common) and collapses internal whitespace, then
// uppercases. Vessel and port names compare reliably only after this.
func normalizeName(raw string) (string, error) {
	folded := norm.NFKC.String(raw)
	collapsed := strings.Join(strings.Fields(folded), " ")
	if collapsed == "" {
		return "", fmt.Errorf("empty name")
	}
	return strings.ToUpper(collapsed), nil
}

func normalizeReference(raw string) (string, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	if cleaned == "" {
		return "", fmt.Errorf("empty reference")
	}
	return cleaned, nil
}
