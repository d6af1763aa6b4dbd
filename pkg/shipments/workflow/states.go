// Package workflow derives a shipment's single current lifecycle state from
// its linked documents.
//
// The state is never set directly: it is a fold over the document set, and it
// only moves forward. The one exception is booking_cancelled, a terminal
// absorbing state reachable from anywhere.
package workflow

// State is one stage in the shipment lifecycle.
type State string

const (
	StateNone                         State = ""
	StateBookingConfirmationReceived  State = "booking_confirmation_received"
	StateBookingConfirmationShared    State = "booking_confirmation_shared"
	StateSIDraftReceived              State = "si_draft_received"
	StateSIConfirmed                  State = "si_confirmed"
	StateVGMConfirmed                 State = "vgm_confirmed"
	StateSOBReceived                  State = "sob_received"
	StateHBLReleased                  State = "hbl_released"
	StateInvoiceSent                  State = "invoice_sent"
	StateArrivalNoticeReceived        State = "arrival_notice_received"
	StateArrivalNoticeShared          State = "arrival_notice_shared"
	StateDutyInvoiceReceived          State = "duty_invoice_received"
	StateCustomsCleared               State = "customs_cleared"
	StateCargoReleased                State = "cargo_released"
	StatePODReceived                  State = "pod_received"
	StateBookingCancelled             State = "booking_cancelled"
)

// stateOrder ranks the forward progression. booking_cancelled is absent on
// purpose: it is absorbing, not ordered.
var stateOrder = map[State]int{
	StateBookingConfirmationReceived: 1,
	StateBookingConfirmationShared:   2,
	StateSIDraftReceived:             3,
	StateSIConfirmed:                 4,
	StateVGMConfirmed:                5,
	StateSOBReceived:                 6,
	StateHBLReleased:                 7,
	StateInvoiceSent:                 8,
	StateArrivalNoticeReceived:       9,
	StateArrivalNoticeShared:         10,
	StateDutyInvoiceReceived:         11,
	StateCustomsCleared:              12,
	StateCargoReleased:               13,
	StatePODReceived:                 14,
}

// Rank returns the ordering index of s, or 0 for StateNone. Cancelled ranks
// above everything because no ordered state may replace it.
func Rank(s State) int {
	if s == StateBookingCancelled {
		return len(stateOrder) + 1
	}
	return stateOrder[s]
}

// Valid reports whether s is a recognized state.
func (s State) Valid() bool {
	if s == StateNone || s == StateBookingCancelled {
		return true
	}
	_, ok := stateOrder[s]
	return ok
}

// Terminal reports whether s is the absorbing cancelled state.
func (s State) Terminal() bool {
	return s == StateBookingCancelled
}
