// Package shipments holds the shipment aggregate: one mutable record per
// physical movement, accreted from linked documents.
//
// Shipment fields are never set from arbitrary call sites. The pipeline's
// merge step is the single writer, and it only writes what the authority
// resolver approved and what the workflow fold derived. The repository
// deliberately exposes applyField/state primitives rather than a generic
// setter so every mutation is traceable to one of those two decisions.
package shipments

import (
	"time"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/shipments/workflow"
)

// FieldSlot is one tracked scalar field with its provenance: who supplied
// the value and at what authority level it is held.
type FieldSlot struct {
	Value              string    `json:"value"`
	SourceDocumentType docs.Type `json:"source_document_type"`
	AuthorityLevel     int       `json:"authority_level"`
}

// Shipment is the aggregate for one physical movement.
//
// Invariants: ContainerNumbers only grows; each field slot's AuthorityLevel
// only decreases (equal-or-more-authoritative holder) unless an explicit
// override rule fired; WorkflowState only advances per the state ordering,
// cancellation excepted.
type Shipment struct {
	ID                     int64                            `json:"id"`
	BookingNumber          string                           `json:"booking_number"`
	BLNumber               string                           `json:"bl_number"`
	ContainerNumbers       []string                         `json:"container_numbers"`
	Fields                 map[entities.Type]FieldSlot      `json:"fields"`
	WorkflowState          workflow.State                   `json:"workflow_state"`
	WorkflowStateUpdatedAt time.Time                        `json:"workflow_state_updated_at"`
	CreatedAt              time.Time                        `json:"created_at"`
	UpdatedAt              time.Time                        `json:"updated_at"`
}

// Field returns the slot for t, if held.
func (s *Shipment) Field(t entities.Type) (FieldSlot, bool) {
	slot, ok := s.Fields[t]
	return slot, ok
}

// HasContainer reports whether cn is already in the container set.
func (s *Shipment) HasContainer(cn string) bool {
	for _, c := range s.ContainerNumbers {
		if c == cn {
			return true
		}
	}
	return false
}

// Link is the join record between a document and the shipment it resolved
// to. Unique on (DocumentID, ShipmentID): inserting the same pair twice is a
// no-op.
type Link struct {
	DocumentID   int64         `json:"document_id"`
	ShipmentID   int64         `json:"shipment_id"`
	MatchedBy    entities.Type `json:"matched_by"`
	MatchedValue string        `json:"matched_value"`
	CreatedAt    time.Time     `json:"created_at"`
}
