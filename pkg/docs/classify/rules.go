package classify

import (
	"strings"

	"github.com/caravelhq/caravel-cli/pkg/docs"
)

// carrierRules maps a carrier key to its ordered rule set. Within each set,
// more specific rules come first: a Maersk "shipped on board" notice also
// contains the word "booking", so SOB must be probed before the generic
// booking rule.
var carrierRules = map[string][]Rule{
	"maersk": {
		{
			ID:           "maersk_sob_confirmation",
			DocumentType: docs.TypeSOBConfirmation,
			Confidence:   95,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "shipped on board", "sob confirmation") ||
					attachmentContainsAny(m, "sob")
			},
		},
		{
			ID:           "maersk_booking_cancellation",
			DocumentType: docs.TypeBookingCancellation,
			Confidence:   95,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "booking cancelled", "booking cancellation", "cancellation of booking")
			},
		},
		{
			ID:           "maersk_booking_amendment",
			DocumentType: docs.TypeBookingAmendment,
			Confidence:   90,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "booking amendment", "amended booking confirmation")
			},
		},
		{
			ID:           "maersk_booking_confirmation",
			DocumentType: docs.TypeBookingConfirmation,
			Confidence:   90,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "booking confirmation") ||
					attachmentContainsAny(m, "booking confirmation", "booking_confirmation")
			},
		},
		{
			ID:           "maersk_arrival_notice",
			DocumentType: docs.TypeArrivalNotice,
			Confidence:   90,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "arrival notice", "notice of arrival")
			},
		},
		{
			ID:           "maersk_bl_verify_copy",
			DocumentType: docs.TypeBillOfLading,
			Confidence:   85,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "verify copy", "draft b/l", "draft bl", "bl draft") ||
					attachmentContainsAny(m, "verify_copy", "draft_bl")
			},
		},
	},

	"cosco": {
		{
			ID:           "cosco_sob_confirmation",
			DocumentType: docs.TypeSOBConfirmation,
			Confidence:   95,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "shipped on board", "on board confirmation")
			},
		},
		{
			ID:           "cosco_booking_cancellation",
			DocumentType: docs.TypeBookingCancellation,
			Confidence:   95,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "booking cancel")
			},
		},
		{
			ID:           "cosco_booking_confirmation",
			DocumentType: docs.TypeBookingConfirmation,
			Confidence:   90,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "booking confirmation", "so no.") ||
					attachmentContainsAny(m, "booking")
			},
		},
		{
			ID:           "cosco_si_confirmation",
			DocumentType: docs.TypeShippingInstruction,
			Confidence:   85,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "si confirmation", "shipping instruction")
			},
		},
		{
			ID:           "cosco_arrival_notice",
			DocumentType: docs.TypeArrivalNotice,
			Confidence:   90,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "arrival notice")
			},
		},
	},

	"msc": {
		{
			ID:           "msc_booking_cancellation",
			DocumentType: docs.TypeBookingCancellation,
			Confidence:   95,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "cancellation", "booking cancelled")
			},
		},
		{
			ID:           "msc_booking_confirmation",
			DocumentType: docs.TypeBookingConfirmation,
			Confidence:   90,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "booking confirmation", "booking ref")
			},
		},
		{
			ID:           "msc_arrival_notice",
			DocumentType: docs.TypeArrivalNotice,
			Confidence:   90,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "arrival notice", "import notification")
			},
		},
	},

	"hapag": {
		{
			ID:           "hapag_sob_confirmation",
			DocumentType: docs.TypeSOBConfirmation,
			Confidence:   95,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "shipped on board")
			},
		},
		{
			ID:           "hapag_booking_confirmation",
			DocumentType: docs.TypeBookingConfirmation,
			Confidence:   90,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "booking confirmation", "booking acknowledgement")
			},
		},
	},

	"one": {
		{
			ID:           "one_booking_confirmation",
			DocumentType: docs.TypeBookingConfirmation,
			Confidence:   90,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "booking confirmation", "booking receipt notice")
			},
		},
		{
			ID:           "one_arrival_notice",
			DocumentType: docs.TypeArrivalNotice,
			Confidence:   90,
			Matches: func(m *Message) bool {
				return subjectContainsAny(m, "arrival notice")
			},
		},
	},
}

// genericRules apply to any sender after carrier rules (if any) have been
// probed. They are weaker: subject phrasing outside a known carrier template
// is less trustworthy, which the lower confidences reflect.
var genericRules = []Rule{
	{
		ID:           "generic_vgm_confirmation",
		DocumentType: docs.TypeVGMConfirmation,
		Confidence:   80,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "vgm confirmation", "vgm received", "verified gross mass")
		},
	},
	{
		ID:           "generic_sob_confirmation",
		DocumentType: docs.TypeSOBConfirmation,
		Confidence:   75,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "shipped on board", "sob confirmation")
		},
	},
	{
		ID:           "generic_booking_cancellation",
		DocumentType: docs.TypeBookingCancellation,
		Confidence:   80,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "booking cancellation", "booking cancelled")
		},
	},
	{
		ID:           "generic_booking_confirmation",
		DocumentType: docs.TypeBookingConfirmation,
		Confidence:   75,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "booking confirmation")
		},
	},
	{
		ID:           "generic_shipping_instruction",
		DocumentType: docs.TypeShippingInstruction,
		Confidence:   75,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "shipping instruction", "si draft", "si submission") ||
				attachmentContainsAny(m, "shipping_instruction", "si_draft")
		},
	},
	{
		ID:           "generic_arrival_notice",
		DocumentType: docs.TypeArrivalNotice,
		Confidence:   75,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "arrival notice")
		},
	},
	{
		ID:           "generic_duty_invoice",
		DocumentType: docs.TypeDutyInvoice,
		Confidence:   75,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "duty invoice", "customs duty")
		},
	},
	{
		ID:           "generic_customs_clearance",
		DocumentType: docs.TypeCustomsClearance,
		Confidence:   75,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "customs cleared", "customs clearance", "entry summary")
		},
	},
	{
		ID:           "generic_cargo_release",
		DocumentType: docs.TypeCargoRelease,
		Confidence:   75,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "cargo release", "delivery order")
		},
	},
	{
		ID:           "generic_proof_of_delivery",
		DocumentType: docs.TypeProofOfDelivery,
		Confidence:   75,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "proof of delivery", "pod confirmation") ||
				attachmentContainsAny(m, "pod_")
		},
	},
	{
		ID:           "generic_bill_of_lading",
		DocumentType: docs.TypeBillOfLading,
		Confidence:   70,
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "bill of lading", "hbl", "house bl") ||
				attachmentContainsAny(m, "bill_of_lading", "hbl_")
		},
	},
	{
		ID:           "generic_invoice",
		DocumentType: docs.TypeInvoice,
		Confidence:   60, // "invoice" alone is weak; below threshold so AI confirms
		Matches: func(m *Message) bool {
			return subjectContainsAny(m, "invoice") || attachmentContainsAny(m, "invoice")
		},
	},
}

// RulesFor returns the ordered rule list probed for a message from the given
// carrier ("" for unknown senders): carrier-specific rules first, then the
// generic set.
func RulesFor(carrier string) []Rule {
	specific := carrierRules[carrier]
	out := make([]Rule, 0, len(specific)+len(genericRules))
	out = append(out, specific...)
	out = append(out, genericRules...)
	return out
}

func subjectContainsAny(m *Message, phrases ...string) bool {
	subject := strings.ToLower(m.Subject)
	for _, p := range phrases {
		if strings.Contains(subject, p) {
			return true
		}
	}
	return false
}

func attachmentContainsAny(m *Message, fragments ...string) bool {
	for _, name := range m.AttachmentNames {
		lower := strings.ToLower(name)
		for _, f := range fragments {
			if strings.Contains(lower, f) {
				return true
			}
		}
	}
	return false
}
