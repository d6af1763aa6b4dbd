package authority

import (
	"context"
	"fmt"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/logging"
)

// ReasonCode is the machine-readable outcome of an authority decision.
type ReasonCode string

const (
	ReasonSourceNotAuthoritative ReasonCode = "source_not_authoritative"
	ReasonNoExistingValue        ReasonCode = "no_existing_value"
	ReasonExplicitOverride       ReasonCode = "explicit_override"
	ReasonHigherAuthority        ReasonCode = "higher_authority"
	ReasonExistingKept           ReasonCode = "existing_kept"
)

// FieldSource describes who currently holds a shipment field.
type FieldSource struct {
	Value        string
	DocumentType docs.Type
}

// Decision is the full, auditable outcome of one resolution. Reason is not
// cosmetic: it is the only way an operator can diagnose "why didn't this
// field update".
type Decision struct {
	Update     bool       `json:"update"`
	ReasonCode ReasonCode `json:"reason_code"`
	Reason     string     `json:"reason"`
	// NewLevel is the authority level the field will be held at when
	// Update is true.
	NewLevel int `json:"new_level,omitempty"`
}

// Resolver applies the ranked authority table to competing field values.
type Resolver struct {
	rules  *Cache
	logger logging.Logger
}

// NewResolver creates a resolver reading rules through cache.
func NewResolver(rules *Cache, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Resolver{rules: rules, logger: logger}
}

// Resolve decides whether newValue from newDocType should replace the
// existing field value. existing is nil when the field is empty.
//
// The decision procedure, in order:
//  1. no rule for (newDocType, entityType) -> keep existing
//  2. no existing value -> update (anything beats nothing)
//  3. existing source without a rule is treated as UnrankedLevel
//  4. explicit can_override_from listing -> update regardless of levels
//  5. strictly lower level -> update
//  6. otherwise -> keep existing
func (r *Resolver) Resolve(ctx context.Context, entityType entities.Type, newDocType docs.Type, newValue string, existing *FieldSource) (Decision, error) {
	newRule, ok, err := r.rules.Get(ctx, newDocType, entityType)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve %s from %s: %w", entityType, newDocType, err)
	}

	var decision Decision
	switch {
	case !ok:
		decision = Decision{
			Update:     false,
			ReasonCode: ReasonSourceNotAuthoritative,
			Reason:     fmt.Sprintf("%s is not authoritative for %s", newDocType, entityType),
		}

	case existing == nil || existing.Value == "":
		decision = Decision{
			Update:     true,
			ReasonCode: ReasonNoExistingValue,
			Reason:     fmt.Sprintf("no existing value for %s; %s (level %d) sets it", entityType, newDocType, newRule.Level),
			NewLevel:   newRule.Level,
		}

	default:
		existingLevel := UnrankedLevel
		if existingRule, ok, err := r.rules.Get(ctx, existing.DocumentType, entityType); err != nil {
			return Decision{}, fmt.Errorf("resolve %s existing source %s: %w", entityType, existing.DocumentType, err)
		} else if ok {
			existingLevel = existingRule.Level
		}

		switch {
		case newRule.Overrides(existing.DocumentType):
			decision = Decision{
				Update:     true,
				ReasonCode: ReasonExplicitOverride,
				Reason:     fmt.Sprintf("%s explicitly overrides %s for %s", newDocType, existing.DocumentType, entityType),
				NewLevel:   newRule.Level,
			}
		case newRule.Level < existingLevel:
			decision = Decision{
				Update:     true,
				ReasonCode: ReasonHigherAuthority,
				Reason:     fmt.Sprintf("%s (level %d) outranks %s (level %d) for %s", newDocType, newRule.Level, existing.DocumentType, existingLevel, entityType),
				NewLevel:   newRule.Level,
			}
		default:
			decision = Decision{
				Update:     false,
				ReasonCode: ReasonExistingKept,
				Reason:     fmt.Sprintf("%s (level %d) does not outrank %s (level %d) for %s", newDocType, newRule.Level, existing.DocumentType, existingLevel, entityType),
			}
		}
	}

	// A "no update" is a normal, logged outcome, never a silent no-op.
	r.logger.Debug("authority decision",
		logging.F("entity_type", string(entityType)),
		logging.F("new_doc_type", string(newDocType)),
		logging.F("update", decision.Update),
		logging.F("reason_code", string(decision.ReasonCode)),
		logging.F("reason", decision.Reason),
	)

	return decision, nil
}
