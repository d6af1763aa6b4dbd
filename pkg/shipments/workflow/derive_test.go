package workflow

import (
	"math/rand"
	"testing"

	"github.com/caravelhq/caravel-cli/pkg/docs"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name            string
		docType         docs.Type
		direction       docs.Direction
		senderIsCarrier bool
		want            State
		wantOK          bool
	}{
		{name: "booking confirmation inbound", docType: docs.TypeBookingConfirmation, direction: docs.DirectionInbound, want: StateBookingConfirmationReceived, wantOK: true},
		{name: "booking confirmation outbound", docType: docs.TypeBookingConfirmation, direction: docs.DirectionOutbound, want: StateBookingConfirmationShared, wantOK: true},
		{name: "si from carrier confirms", docType: docs.TypeShippingInstruction, direction: docs.DirectionInbound, senderIsCarrier: true, want: StateSIConfirmed, wantOK: true},
		{name: "si from shipper is draft", docType: docs.TypeShippingInstruction, direction: docs.DirectionInbound, senderIsCarrier: false, want: StateSIDraftReceived, wantOK: true},
		{name: "si outbound derives nothing", docType: docs.TypeShippingInstruction, direction: docs.DirectionOutbound, wantOK: false},
		{name: "vgm confirmed", docType: docs.TypeVGMConfirmation, direction: docs.DirectionInbound, want: StateVGMConfirmed, wantOK: true},
		{name: "sob received", docType: docs.TypeSOBConfirmation, direction: docs.DirectionInbound, want: StateSOBReceived, wantOK: true},
		{name: "hbl released on outbound bl", docType: docs.TypeBillOfLading, direction: docs.DirectionOutbound, want: StateHBLReleased, wantOK: true},
		{name: "inbound bl derives nothing", docType: docs.TypeBillOfLading, direction: docs.DirectionInbound, wantOK: false},
		{name: "invoice sent", docType: docs.TypeInvoice, direction: docs.DirectionOutbound, want: StateInvoiceSent, wantOK: true},
		{name: "arrival notice received", docType: docs.TypeArrivalNotice, direction: docs.DirectionInbound, want: StateArrivalNoticeReceived, wantOK: true},
		{name: "arrival notice shared", docType: docs.TypeArrivalNotice, direction: docs.DirectionOutbound, want: StateArrivalNoticeShared, wantOK: true},
		{name: "pod received", docType: docs.TypeProofOfDelivery, direction: docs.DirectionInbound, want: StatePODReceived, wantOK: true},
		{name: "cancellation inbound", docType: docs.TypeBookingCancellation, direction: docs.DirectionInbound, want: StateBookingCancelled, wantOK: true},
		{name: "cancellation outbound", docType: docs.TypeBookingCancellation, direction: docs.DirectionOutbound, want: StateBookingCancelled, wantOK: true},
		{name: "general correspondence derives nothing", docType: docs.TypeGeneralCorrespondence, direction: docs.DirectionInbound, wantOK: false},
		{name: "unknown direction derives nothing", docType: docs.TypeBookingConfirmation, direction: docs.DirectionUnknown, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Derive(tt.docType, tt.direction, tt.senderIsCarrier)
			if ok != tt.wantOK {
				t.Fatalf("Derive(%s, %s, carrier=%v) ok = %v, want %v", tt.docType, tt.direction, tt.senderIsCarrier, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Derive(%s, %s, carrier=%v) = %s, want %s", tt.docType, tt.direction, tt.senderIsCarrier, got, tt.want)
			}
		})
	}
}

func TestFoldTakesMaximum(t *testing.T) {
	linked := []DocumentContext{
		{DocumentID: 1, DocumentType: docs.TypeBookingConfirmation, Direction: docs.DirectionInbound},
		{DocumentID: 2, DocumentType: docs.TypeSOBConfirmation, Direction: docs.DirectionInbound},
		{DocumentID: 3, DocumentType: docs.TypeVGMConfirmation, Direction: docs.DirectionInbound},
	}

	result := Fold(StateNone, linked)
	if !result.Changed || result.State != StateSOBReceived {
		t.Errorf("Fold = %+v, want sob_received", result)
	}
	if result.EvidenceDocumentID != 2 {
		t.Errorf("evidence document = %d, want 2", result.EvidenceDocumentID)
	}
	if result.Reason == "" {
		t.Error("fold result must carry a reason")
	}
}

func TestFoldIsMonotonic(t *testing.T) {
	// A shipment already at sob_received sees only earlier-stage documents.
	linked := []DocumentContext{
		{DocumentID: 1, DocumentType: docs.TypeBookingConfirmation, Direction: docs.DirectionInbound},
	}
	result := Fold(StateSOBReceived, linked)
	if result.Changed {
		t.Errorf("state regressed: %+v", result)
	}
	if result.State != StateSOBReceived {
		t.Errorf("state = %s, want sob_received retained", result.State)
	}
	if result.ReasonCode != ReasonNoAdvance {
		t.Errorf("reason code = %s, want %s", result.ReasonCode, ReasonNoAdvance)
	}
}

func TestFoldCancellationAbsorbs(t *testing.T) {
	linked := []DocumentContext{
		{DocumentID: 1, DocumentType: docs.TypeProofOfDelivery, Direction: docs.DirectionInbound},
		{DocumentID: 2, DocumentType: docs.TypeBookingCancellation, Direction: docs.DirectionInbound},
	}
	result := Fold(StatePODReceived, linked)
	if !result.Changed || result.State != StateBookingCancelled {
		t.Errorf("cancellation must absorb any state: %+v", result)
	}

	// Once cancelled, a repeat fold is a no-op.
	result = Fold(StateBookingCancelled, linked)
	if result.Changed {
		t.Errorf("cancelled is terminal: %+v", result)
	}
}

func TestFoldNoEvidence(t *testing.T) {
	linked := []DocumentContext{
		{DocumentID: 1, DocumentType: docs.TypeGeneralCorrespondence, Direction: docs.DirectionInbound},
	}
	result := Fold(StateSIConfirmed, linked)
	if result.Changed || result.State != StateSIConfirmed {
		t.Errorf("Fold = %+v, want unchanged", result)
	}
	if result.ReasonCode != ReasonNoEvidence {
		t.Errorf("reason code = %s, want %s", result.ReasonCode, ReasonNoEvidence)
	}
}

// Rebuild equivalence: folding the full set at once must land on the same
// state as folding document-by-document in any arrival order.
func TestFoldRebuildEquivalence(t *testing.T) {
	linked := []DocumentContext{
		{DocumentID: 1, DocumentType: docs.TypeBookingConfirmation, Direction: docs.DirectionInbound},
		{DocumentID: 2, DocumentType: docs.TypeShippingInstruction, Direction: docs.DirectionInbound, SenderIsCarrier: true},
		{DocumentID: 3, DocumentType: docs.TypeVGMConfirmation, Direction: docs.DirectionInbound},
		{DocumentID: 4, DocumentType: docs.TypeSOBConfirmation, Direction: docs.DirectionInbound},
		{DocumentID: 5, DocumentType: docs.TypeGeneralCorrespondence, Direction: docs.DirectionInbound},
		{DocumentID: 6, DocumentType: docs.TypeArrivalNotice, Direction: docs.DirectionInbound},
	}

	full := Fold(StateNone, linked).State

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		shuffled := make([]DocumentContext, len(linked))
		copy(shuffled, linked)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		incremental := StateNone
		for _, dc := range shuffled {
			incremental = Fold(incremental, []DocumentContext{dc}).State
		}

		if incremental != full {
			t.Fatalf("trial %d: incremental %s != full rebuild %s (order %v)", trial, incremental, full, shuffled)
		}
	}
}

// Monotonic state property: the ordering index never decreases over any
// event sequence, cancellation excepted.
func TestStateOrderingNonDecreasing(t *testing.T) {
	events := []DocumentContext{
		{DocumentID: 1, DocumentType: docs.TypeSOBConfirmation, Direction: docs.DirectionInbound},
		{DocumentID: 2, DocumentType: docs.TypeBookingConfirmation, Direction: docs.DirectionInbound},
		{DocumentID: 3, DocumentType: docs.TypeShippingInstruction, Direction: docs.DirectionInbound},
		{DocumentID: 4, DocumentType: docs.TypeArrivalNotice, Direction: docs.DirectionInbound},
		{DocumentID: 5, DocumentType: docs.TypeVGMConfirmation, Direction: docs.DirectionInbound},
	}

	current := StateNone
	lastRank := Rank(current)
	for _, ev := range events {
		current = Fold(current, []DocumentContext{ev}).State
		if r := Rank(current); r < lastRank {
			t.Fatalf("rank regressed from %d to %d at document %d", lastRank, r, ev.DocumentID)
		} else {
			lastRank = r
		}
	}
}

func TestRankAndValidity(t *testing.T) {
	if Rank(StateBookingCancelled) <= Rank(StatePODReceived) {
		t.Error("cancelled must outrank every ordered state")
	}
	if Rank(StateNone) != 0 {
		t.Error("none ranks zero")
	}
	if !State("si_confirmed").Valid() {
		t.Error("si_confirmed should be valid")
	}
	if State("warp_drive_engaged").Valid() {
		t.Error("unknown state should be invalid")
	}
	if !StateBookingCancelled.Terminal() || StatePODReceived.Terminal() {
		t.Error("terminal flag wrong")
	}
}
