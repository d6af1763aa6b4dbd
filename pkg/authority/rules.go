// Package authority decides which source's value wins when documents
// disagree about a shipment field.
//
// Every (document_type, entity_type) pair may carry a rule with a numeric
// authority level (lower is more trusted) plus an optional explicit
// override list for known exceptions. A source with no rule for a field is
// not authoritative for it at all.
package authority

import (
	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/entities"
)

// UnrankedLevel is the level assumed for a stored value whose source has no
// rule. Anything ranked beats it.
const UnrankedLevel = 999

// Rule grants a document type authority over one entity field.
type Rule struct {
	DocumentType docs.Type     `json:"document_type"`
	EntityType   entities.Type `json:"entity_type"`
	// Level ranks trust; lower is more authoritative.
	Level int `json:"authority_level"`
	// CanOverrideFrom lists document types this source may overwrite
	// regardless of levels. Escape hatch for correction flows, e.g. a
	// booking amendment must always beat the original confirmation.
	CanOverrideFrom []docs.Type `json:"can_override_from,omitempty"`
}

// Overrides reports whether the rule explicitly overrides values held by
// docType.
func (r Rule) Overrides(docType docs.Type) bool {
	for _, t := range r.CanOverrideFrom {
		if t == docType {
			return true
		}
	}
	return false
}

// ruleKey identifies a rule in the cache.
type ruleKey struct {
	docType    docs.Type
	entityType entities.Type
}

// DefaultRules is the shipped authority table. It is seeded into the
// authority_rules table by migration and can be edited there; this copy
// exists so tests and a fresh database agree on baseline behavior.
func DefaultRules() []Rule {
	carrierFields := []entities.Type{
		entities.TypeBookingNumber, entities.TypeBLNumber,
		entities.TypeVesselName, entities.TypeVoyageNumber,
		entities.TypePortOfLoading, entities.TypePortOfDischarge,
		entities.TypeETD, entities.TypeETA,
		entities.TypeSICutoff, entities.TypeVGMCutoff, entities.TypeCYCutoff,
	}

	var rules []Rule

	// Booking confirmations are the primary source for routing and
	// schedule fields.
	for _, f := range carrierFields {
		rules = append(rules, Rule{DocumentType: docs.TypeBookingConfirmation, EntityType: f, Level: 1})
	}

	// Amendments carry the same fields and must always beat the original
	// confirmation, even at equal level.
	for _, f := range carrierFields {
		rules = append(rules, Rule{
			DocumentType:    docs.TypeBookingAmendment,
			EntityType:      f,
			Level:           1,
			CanOverrideFrom: []docs.Type{docs.TypeBookingConfirmation},
		})
	}

	// The bill of lading is the contractual record for parties and the BL
	// number itself.
	rules = append(rules,
		Rule{DocumentType: docs.TypeBillOfLading, EntityType: entities.TypeBLNumber, Level: 1},
		Rule{DocumentType: docs.TypeBillOfLading, EntityType: entities.TypeShipperName, Level: 1},
		Rule{DocumentType: docs.TypeBillOfLading, EntityType: entities.TypeConsigneeName, Level: 1},
		Rule{DocumentType: docs.TypeBillOfLading, EntityType: entities.TypeVesselName, Level: 2},
		Rule{DocumentType: docs.TypeBillOfLading, EntityType: entities.TypeVoyageNumber, Level: 2},
	)

	// Shipping instructions carry party details before a BL exists.
	rules = append(rules,
		Rule{DocumentType: docs.TypeShippingInstruction, EntityType: entities.TypeShipperName, Level: 2},
		Rule{DocumentType: docs.TypeShippingInstruction, EntityType: entities.TypeConsigneeName, Level: 2},
		Rule{DocumentType: docs.TypeShippingInstruction, EntityType: entities.TypeBookingNumber, Level: 3},
	)

	// SOB confirmations fix the actual departure.
	rules = append(rules,
		Rule{DocumentType: docs.TypeSOBConfirmation, EntityType: entities.TypeETD, Level: 1,
			CanOverrideFrom: []docs.Type{docs.TypeBookingConfirmation, docs.TypeBookingAmendment}},
		Rule{DocumentType: docs.TypeSOBConfirmation, EntityType: entities.TypeVesselName, Level: 2},
		Rule{DocumentType: docs.TypeSOBConfirmation, EntityType: entities.TypeVoyageNumber, Level: 2},
	)

	// Arrival notices are the best source for arrival timing.
	rules = append(rules,
		Rule{DocumentType: docs.TypeArrivalNotice, EntityType: entities.TypeETA, Level: 1,
			CanOverrideFrom: []docs.Type{docs.TypeBookingConfirmation, docs.TypeBookingAmendment}},
		Rule{DocumentType: docs.TypeArrivalNotice, EntityType: entities.TypePortOfDischarge, Level: 2},
		Rule{DocumentType: docs.TypeArrivalNotice, EntityType: entities.TypeBLNumber, Level: 3},
	)

	// Container numbers may come from any operational document; the
	// container set is append-only so levels matter little, but rules must
	// exist for the source to contribute at all.
	for _, dt := range []docs.Type{
		docs.TypeBookingConfirmation, docs.TypeBookingAmendment,
		docs.TypeShippingInstruction, docs.TypeVGMConfirmation,
		docs.TypeSOBConfirmation, docs.TypeBillOfLading,
		docs.TypeArrivalNotice,
	} {
		rules = append(rules, Rule{DocumentType: dt, EntityType: entities.TypeContainerNumber, Level: 2})
	}

	// general_correspondence has no rules on purpose: free-form mail is
	// never authoritative for anything.

	return rules
}
