package linker

import (
	"context"
	"errors"
	"testing"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/shipments"
)

// memoryIndex is an in-memory ShipmentIndex for cascade tests.
type memoryIndex struct {
	shipments []*shipments.Shipment
	err       error
}

func (m *memoryIndex) FindByBookingNumber(ctx context.Context, bn string) ([]*shipments.Shipment, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*shipments.Shipment
	for _, s := range m.shipments {
		if s.BookingNumber == bn {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryIndex) FindByBLNumber(ctx context.Context, bl string) ([]*shipments.Shipment, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*shipments.Shipment
	for _, s := range m.shipments {
		if s.BLNumber == bl {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryIndex) FindByContainerNumber(ctx context.Context, cn string) ([]*shipments.Shipment, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*shipments.Shipment
	for _, s := range m.shipments {
		if s.HasContainer(cn) {
			out = append(out, s)
		}
	}
	return out, nil
}

func entitySet(scalars map[entities.Type]string, containers ...string) entities.EntitySet {
	set := entities.NewEntitySet()
	for t, v := range scalars {
		set.Scalars[t] = v
	}
	set.Containers = containers
	return set
}

func TestLinkCascadePriority(t *testing.T) {
	index := &memoryIndex{shipments: []*shipments.Shipment{
		{ID: 1, BookingNumber: "COSU6441804980"},
		{ID: 2, BLNumber: "MAEU123456789"},
		{ID: 3, ContainerNumbers: []string{"MSKU5710284"}},
	}}
	l := New(index, logging.NewNopLogger())
	doc := &docs.Document{ID: 10, DocumentType: docs.TypeShippingInstruction}

	// Booking number wins over BL and container even when all would match.
	set := entitySet(map[entities.Type]string{
		entities.TypeBookingNumber: "COSU6441804980",
		entities.TypeBLNumber:      "MAEU123456789",
	}, "MSKU5710284")

	result, err := l.Link(context.Background(), doc, set)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeMatched || result.ShipmentID != 1 {
		t.Errorf("result = %+v, want matched shipment 1", result)
	}
	if result.MatchedBy != entities.TypeBookingNumber {
		t.Errorf("matched_by = %s, want booking_number", result.MatchedBy)
	}

	// Without a booking number the BL step fires.
	set = entitySet(map[entities.Type]string{entities.TypeBLNumber: "MAEU123456789"}, "MSKU5710284")
	result, _ = l.Link(context.Background(), doc, set)
	if result.Outcome != OutcomeMatched || result.ShipmentID != 2 || result.MatchedBy != entities.TypeBLNumber {
		t.Errorf("result = %+v, want matched shipment 2 by bl_number", result)
	}

	// Container is the last resort.
	set = entitySet(nil, "MSKU5710284")
	result, _ = l.Link(context.Background(), doc, set)
	if result.Outcome != OutcomeMatched || result.ShipmentID != 3 || result.MatchedBy != entities.TypeContainerNumber {
		t.Errorf("result = %+v, want matched shipment 3 by container_number", result)
	}
}

func TestLinkUnmatchedBookingFallsThrough(t *testing.T) {
	// A booking number that matches nothing must not stop the cascade
	// from trying the BL number.
	index := &memoryIndex{shipments: []*shipments.Shipment{
		{ID: 2, BLNumber: "MAEU123456789"},
	}}
	l := New(index, logging.NewNopLogger())
	doc := &docs.Document{ID: 10, DocumentType: docs.TypeArrivalNotice}

	set := entitySet(map[entities.Type]string{
		entities.TypeBookingNumber: "NOPE000000",
		entities.TypeBLNumber:      "MAEU123456789",
	})
	result, err := l.Link(context.Background(), doc, set)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeMatched || result.ShipmentID != 2 {
		t.Errorf("result = %+v, want matched shipment 2", result)
	}
}

func TestLinkAmbiguousFlagsManualReview(t *testing.T) {
	index := &memoryIndex{shipments: []*shipments.Shipment{
		{ID: 1, BookingNumber: "COSU6441804980"},
		{ID: 2, BookingNumber: "COSU6441804980"}, // duplicate booking: anomaly
	}}
	l := New(index, logging.NewNopLogger())
	doc := &docs.Document{ID: 10, DocumentType: docs.TypeBookingConfirmation}

	set := entitySet(map[entities.Type]string{entities.TypeBookingNumber: "COSU6441804980"})
	result, err := l.Link(context.Background(), doc, set)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeAmbiguous {
		t.Fatalf("result = %+v, want ambiguous", result)
	}
	if result.ShipmentID != 0 {
		t.Error("ambiguous outcome must not pick a shipment")
	}
	if result.Reason == "" {
		t.Error("ambiguous outcome must carry a reason")
	}
}

func TestLinkCreateNew(t *testing.T) {
	l := New(&memoryIndex{}, logging.NewNopLogger())

	// Scenario from the operational playbook: a booking confirmation with
	// a booking number and no existing shipment creates one.
	doc := &docs.Document{ID: 1, DocumentType: docs.TypeBookingConfirmation, Direction: docs.DirectionInbound}
	set := entitySet(map[entities.Type]string{entities.TypeBookingNumber: "COSU6441804980"})

	result, err := l.Link(context.Background(), doc, set)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeCreateNew {
		t.Fatalf("result = %+v, want create_new", result)
	}
	if result.MatchedValue != "COSU6441804980" {
		t.Errorf("matched_value = %q", result.MatchedValue)
	}
}

func TestLinkOrphanOutcomes(t *testing.T) {
	l := New(&memoryIndex{}, logging.NewNopLogger())

	tests := []struct {
		name string
		doc  *docs.Document
		set  entities.EntitySet
	}{
		{
			name: "non-creating type with unmatched booking",
			doc:  &docs.Document{ID: 1, DocumentType: docs.TypeArrivalNotice},
			set:  entitySet(map[entities.Type]string{entities.TypeBookingNumber: "COSU6441804980"}),
		},
		{
			name: "creating type without booking number",
			doc:  &docs.Document{ID: 2, DocumentType: docs.TypeBookingConfirmation},
			set:  entitySet(map[entities.Type]string{entities.TypeBLNumber: "MAEU123456789"}),
		},
		{
			name: "no identifiers at all",
			doc:  &docs.Document{ID: 3, DocumentType: docs.TypeGeneralCorrespondence},
			set:  entitySet(map[entities.Type]string{entities.TypeVesselName: "EVER GIVEN"}),
		},
		{
			name: "secondary identifiers are not used",
			doc:  &docs.Document{ID: 4, DocumentType: docs.TypeInvoice},
			set:  entitySet(map[entities.Type]string{entities.TypeJobNumber: "JOB-100"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := l.Link(context.Background(), tt.doc, tt.set)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Outcome != OutcomeOrphan {
				t.Errorf("result = %+v, want orphan", result)
			}
			if result.Reason == "" {
				t.Error("orphan outcome must carry a reason")
			}
		})
	}
}

func TestLinkIndexErrorPropagates(t *testing.T) {
	l := New(&memoryIndex{err: errors.New("db down")}, logging.NewNopLogger())
	doc := &docs.Document{ID: 1, DocumentType: docs.TypeBookingConfirmation}
	set := entitySet(map[entities.Type]string{entities.TypeBookingNumber: "COSU6441804980"})

	if _, err := l.Link(context.Background(), doc, set); err == nil {
		t.Error("index failure must propagate as an error")
	}
}

// A container number that failed normalization never reaches the cascade:
// the aggregator drops it before the linker sees the set.
func TestMalformedContainerExcludedFromCascade(t *testing.T) {
	index := &memoryIndex{shipments: []*shipments.Shipment{
		{ID: 3, ContainerNumbers: []string{"MSKU571028X"}}, // bad data in index
	}}
	l := New(index, logging.NewNopLogger())

	set, _ := entities.Aggregate([]entities.RawEntity{
		{Type: entities.TypeContainerNumber, Value: "MSKU571028X"},
	}, nil)

	doc := &docs.Document{ID: 1, DocumentType: docs.TypeGeneralCorrespondence}
	result, err := l.Link(context.Background(), doc, set)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeOrphan {
		t.Errorf("result = %+v, want orphan (malformed container excluded)", result)
	}
}
