// Package linker resolves a classified, entity-bearing document to exactly
// one shipment, or decides that none exists yet.
//
// Resolution is a strict priority cascade over normalized identifiers:
// booking number, then BL number, then any container number. First hit wins.
// Secondary identifiers (job, PO, customs references) are deliberately not in
// the cascade: they are not guaranteed unique across shipments, and a wrong
// link is worse than a delayed one.
package linker

import (
	"context"
	"fmt"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/shipments"
)

// ShipmentIndex is the identifier lookup surface the cascade walks. Each
// finder returns every match; the linker itself decides what more than one
// match means.
type ShipmentIndex interface {
	FindByBookingNumber(ctx context.Context, bookingNumber string) ([]*shipments.Shipment, error)
	FindByBLNumber(ctx context.Context, blNumber string) ([]*shipments.Shipment, error)
	FindByContainerNumber(ctx context.Context, containerNumber string) ([]*shipments.Shipment, error)
}

// Outcome is the terminal disposition of one link attempt.
type Outcome string

const (
	// OutcomeMatched links the document to exactly one existing shipment.
	OutcomeMatched Outcome = "matched"
	// OutcomeCreateNew signals that no shipment exists and the document
	// may create one.
	OutcomeCreateNew Outcome = "create_new"
	// OutcomeOrphan files the document unlinked, awaiting a future match.
	OutcomeOrphan Outcome = "orphan"
	// OutcomeAmbiguous flags a data-quality anomaly: one cascade step
	// matched several shipments. Manual review, never a guess.
	OutcomeAmbiguous Outcome = "ambiguous"
)

// Result explains a link attempt. Reason is mandatory audit output, present
// for every outcome including the negative ones.
type Result struct {
	Outcome      Outcome       `json:"outcome"`
	ShipmentID   int64         `json:"shipment_id,omitempty"`
	MatchedBy    entities.Type `json:"matched_by,omitempty"`
	MatchedValue string        `json:"matched_value,omitempty"`
	Reason       string        `json:"reason"`
}

// Linker walks the identifier cascade against the shipment index.
type Linker struct {
	index  ShipmentIndex
	logger logging.Logger
}

// New creates a Linker over index.
func New(index ShipmentIndex, logger logging.Logger) *Linker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Linker{index: index, logger: logger}
}

// cascadeStep is one identifier probe in strict priority order.
type cascadeStep struct {
	matchedBy entities.Type
	value     string
	find      func(context.Context, string) ([]*shipments.Shipment, error)
}

// Link resolves doc against the index. It never errors on "no match"; errors
// are reserved for index failures.
func (l *Linker) Link(ctx context.Context, doc *docs.Document, set entities.EntitySet) (Result, error) {
	var steps []cascadeStep

	if booking, ok := set.Get(entities.TypeBookingNumber); ok {
		steps = append(steps, cascadeStep{entities.TypeBookingNumber, booking, l.index.FindByBookingNumber})
	}
	if bl, ok := set.Get(entities.TypeBLNumber); ok {
		steps = append(steps, cascadeStep{entities.TypeBLNumber, bl, l.index.FindByBLNumber})
	}
	for _, container := range set.Containers {
		steps = append(steps, cascadeStep{entities.TypeContainerNumber, container, l.index.FindByContainerNumber})
	}

	for _, step := range steps {
		candidates, err := step.find(ctx, step.value)
		if err != nil {
			return Result{}, fmt.Errorf("cascade step %s=%s: %w", step.matchedBy, step.value, err)
		}

		switch len(candidates) {
		case 0:
			continue
		case 1:
			result := Result{
				Outcome:      OutcomeMatched,
				ShipmentID:   candidates[0].ID,
				MatchedBy:    step.matchedBy,
				MatchedValue: step.value,
				Reason:       fmt.Sprintf("matched shipment %d by %s %s", candidates[0].ID, step.matchedBy, step.value),
			}
			l.logResult(doc, result)
			return result, nil
		default:
			// Duplicate identifiers across shipments. Picking one
			// would silently corrupt both records.
			result := Result{
				Outcome:      OutcomeAmbiguous,
				MatchedBy:    step.matchedBy,
				MatchedValue: step.value,
				Reason:       fmt.Sprintf("%s %s matches %d shipments; flagged for manual review", step.matchedBy, step.value, len(candidates)),
			}
			l.logResult(doc, result)
			return result, nil
		}
	}

	// No hit anywhere. Shipment-creating types with a booking number may
	// open a new record; everything else waits as an orphan.
	if booking, ok := set.Get(entities.TypeBookingNumber); ok && doc.DocumentType.CreatesShipment() {
		result := Result{
			Outcome:      OutcomeCreateNew,
			MatchedBy:    entities.TypeBookingNumber,
			MatchedValue: booking,
			Reason:       fmt.Sprintf("no existing shipment; %s with booking %s creates one", doc.DocumentType, booking),
		}
		l.logResult(doc, result)
		return result, nil
	}

	reason := "no identifier matched any shipment; filed as orphan for re-linking"
	if !set.HasIdentifier() {
		reason = "document carries no usable identifier; filed as orphan for re-linking"
	}
	result := Result{Outcome: OutcomeOrphan, Reason: reason}
	l.logResult(doc, result)
	return result, nil
}

func (l *Linker) logResult(doc *docs.Document, result Result) {
	l.logger.Debug("link cascade outcome",
		logging.F("document_id", doc.ID),
		logging.F("document_type", string(doc.DocumentType)),
		logging.F("outcome", string(result.Outcome)),
		logging.F("matched_by", string(result.MatchedBy)),
		logging.F("reason", result.Reason),
	)
}
