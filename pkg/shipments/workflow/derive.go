package workflow

import (
	"fmt"

	"github.com/caravelhq/caravel-cli/pkg/docs"
)

// DocumentContext is everything the state machine needs to know about one
// linked document.
type DocumentContext struct {
	DocumentID      int64
	DocumentType    docs.Type
	Direction       docs.Direction
	SenderIsCarrier bool
}

// transitionKey maps (document type, direction) to a candidate state.
type transitionKey struct {
	docType   docs.Type
	direction docs.Direction
}

// transitions is the static lookup table. Shipping instructions are handled
// separately in Derive because the resulting state depends on who sent the
// document, not just on type and direction.
var transitions = map[transitionKey]State{
	{docs.TypeBookingConfirmation, docs.DirectionInbound}:  StateBookingConfirmationReceived,
	{docs.TypeBookingConfirmation, docs.DirectionOutbound}: StateBookingConfirmationShared,
	{docs.TypeBookingAmendment, docs.DirectionInbound}:     StateBookingConfirmationReceived,
	{docs.TypeVGMConfirmation, docs.DirectionInbound}:      StateVGMConfirmed,
	{docs.TypeSOBConfirmation, docs.DirectionInbound}:      StateSOBReceived,
	{docs.TypeBillOfLading, docs.DirectionOutbound}:        StateHBLReleased,
	{docs.TypeInvoice, docs.DirectionOutbound}:             StateInvoiceSent,
	{docs.TypeArrivalNotice, docs.DirectionInbound}:        StateArrivalNoticeReceived,
	{docs.TypeArrivalNotice, docs.DirectionOutbound}:       StateArrivalNoticeShared,
	{docs.TypeDutyInvoice, docs.DirectionInbound}:          StateDutyInvoiceReceived,
	{docs.TypeCustomsClearance, docs.DirectionInbound}:     StateCustomsCleared,
	{docs.TypeCargoRelease, docs.DirectionInbound}:         StateCargoReleased,
	{docs.TypeProofOfDelivery, docs.DirectionInbound}:      StatePODReceived,
}

// Derive maps one document to the workflow state it evidences, if any.
//
// Cancellations map to the absorbing state from any direction. Shipping
// instructions split on sender identity: a carrier-originated SI confirms the
// instruction (si_confirmed); a shipper-originated one is only a draft
// (si_draft_received). Documents with unknown direction derive nothing; the
// caller decides whether to apply the inbound default before getting here.
func Derive(docType docs.Type, direction docs.Direction, senderIsCarrier bool) (State, bool) {
	if docType == docs.TypeBookingCancellation {
		return StateBookingCancelled, true
	}

	if docType == docs.TypeShippingInstruction {
		if direction != docs.DirectionInbound {
			return StateNone, false
		}
		if senderIsCarrier {
			return StateSIConfirmed, true
		}
		return StateSIDraftReceived, true
	}

	state, ok := transitions[transitionKey{docType, direction}]
	return state, ok
}

// FoldResult explains a fold outcome; every state write carries one.
type FoldResult struct {
	State      State  `json:"state"`
	Changed    bool   `json:"changed"`
	ReasonCode string `json:"reason_code"`
	Reason     string `json:"reason"`
	// EvidenceDocumentID is the document whose derived state the fold
	// landed on, when Changed is true.
	EvidenceDocumentID int64 `json:"evidence_document_id,omitempty"`
}

// Fold reason codes.
const (
	ReasonAdvanced   = "state_advanced"
	ReasonCancelled  = "booking_cancelled"
	ReasonNoAdvance  = "no_forward_evidence"
	ReasonNoEvidence = "no_deriving_documents"
)

// Fold evaluates Derive over every linked document and returns the
// maximum-ordered resulting state, writing it only when strictly greater
// than current. A cancellation anywhere in the set wins immediately.
//
// Fold is pure and order-independent across documents, which is what makes a
// full rebuild reproduce the same state as incremental updates.
func Fold(current State, linked []DocumentContext) FoldResult {
	best := StateNone
	var bestDoc int64

	for _, dc := range linked {
		state, ok := Derive(dc.DocumentType, dc.Direction, dc.SenderIsCarrier)
		if !ok {
			continue
		}
		if state == StateBookingCancelled {
			return FoldResult{
				State:              StateBookingCancelled,
				Changed:            current != StateBookingCancelled,
				ReasonCode:         ReasonCancelled,
				Reason:             fmt.Sprintf("document %d cancels the booking; cancellation absorbs any state", dc.DocumentID),
				EvidenceDocumentID: dc.DocumentID,
			}
		}
		if Rank(state) > Rank(best) {
			best = state
			bestDoc = dc.DocumentID
		}
	}

	if best == StateNone {
		return FoldResult{
			State:      current,
			Changed:    false,
			ReasonCode: ReasonNoEvidence,
			Reason:     "no linked document derives a workflow state",
		}
	}

	// Monotonic: never regress once forward progress is recorded.
	if Rank(best) <= Rank(current) {
		return FoldResult{
			State:      current,
			Changed:    false,
			ReasonCode: ReasonNoAdvance,
			Reason:     fmt.Sprintf("best derived state %s does not advance current state %s", best, current),
		}
	}

	return FoldResult{
		State:              best,
		Changed:            true,
		ReasonCode:         ReasonAdvanced,
		Reason:             fmt.Sprintf("document %d advances state from %s to %s", bestDoc, displayState(current), best),
		EvidenceDocumentID: bestDoc,
	}
}

func displayState(s State) string {
	if s == StateNone {
		return "(none)"
	}
	return string(s)
}
