// Package docs defines the document domain model: the classified,
// entity-bearing record of one inbound or outbound freight communication.
package docs

import "time"

// Type is the closed set of document types the engine recognizes.
type Type string

const (
	// TypeUnknown marks a document awaiting classification. It is not a
	// member of the closed set, so Valid() is false and the pipeline's
	// classify stage always runs for it.
	TypeUnknown Type = "unknown"

	TypeBookingConfirmation Type = "booking_confirmation"
	TypeBookingAmendment    Type = "booking_amendment"
	TypeBookingCancellation Type = "booking_cancellation"
	TypeShippingInstruction Type = "shipping_instruction"
	TypeVGMConfirmation     Type = "vgm_confirmation"
	TypeSOBConfirmation     Type = "sob_confirmation"
	TypeBillOfLading        Type = "bill_of_lading"
	TypeInvoice             Type = "invoice"
	TypeArrivalNotice       Type = "arrival_notice"
	TypeDutyInvoice         Type = "duty_invoice"
	TypeCustomsClearance    Type = "customs_clearance"
	TypeCargoRelease        Type = "cargo_release"
	TypeProofOfDelivery     Type = "proof_of_delivery"
	TypeGeneralCorrespondence Type = "general_correspondence"
)

// AllTypes lists every recognized document type. The AI classifier is
// constrained to this set; anything outside it degrades to
// general_correspondence.
var AllTypes = []Type{
	TypeBookingConfirmation,
	TypeBookingAmendment,
	TypeBookingCancellation,
	TypeShippingInstruction,
	TypeVGMConfirmation,
	TypeSOBConfirmation,
	TypeBillOfLading,
	TypeInvoice,
	TypeArrivalNotice,
	TypeDutyInvoice,
	TypeCustomsClearance,
	TypeCargoRelease,
	TypeProofOfDelivery,
	TypeGeneralCorrespondence,
}

// Valid reports whether t is in the closed document type set.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// shipmentCreatingTypes are the document types allowed to create a new
// Shipment when the link cascade finds no match. Everything else becomes an
// orphan and waits.
var shipmentCreatingTypes = map[Type]bool{
	TypeBookingConfirmation: true,
	TypeBookingAmendment:    true,
}

// CreatesShipment reports whether a document of this type may create a new
// shipment when it carries a booking number and matches nothing.
func (t Type) CreatesShipment() bool {
	return shipmentCreatingTypes[t]
}

// Direction records which way a document traveled. Unknown is a real value:
// senders recognized as neither a carrier nor our own organization stay
// Unknown at detection level, and the pipeline applies the inbound default in
// exactly one logged place.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = "unknown"
)

// ThreadRole records where a message sits in its email thread.
type ThreadRole string

const (
	ThreadRolePrimary ThreadRole = "primary"
	ThreadRoleReply   ThreadRole = "reply"
	ThreadRoleForward ThreadRole = "forward"
)

// LinkStatus tracks the document's position in the linking lifecycle.
type LinkStatus string

const (
	LinkStatusPending   LinkStatus = "pending"
	LinkStatusLinked    LinkStatus = "linked"
	LinkStatusOrphaned  LinkStatus = "orphaned"
	LinkStatusAmbiguous LinkStatus = "ambiguous"
)

// Document is the immutable record of one communication instance. It is
// created once per ingested message (idempotent upsert on SourceMessageID)
// and never mutated after classification, except by an explicit
// reclassification run that replaces type, direction, and confidence in
// place.
type Document struct {
	ID              int64               `json:"id"`
	SourceMessageID string              `json:"source_message_id"`
	DocumentType    Type                `json:"document_type"`
	Direction       Direction           `json:"direction"`
	ThreadRole      ThreadRole          `json:"thread_role"`
	ReceivedAt      time.Time           `json:"received_at"`
	SenderAddress   string              `json:"sender_address"`
	Subject         string              `json:"subject"`
	BodyExcerpt     string              `json:"body_excerpt"`
	AttachmentNames []string            `json:"attachment_names"`
	RawEntities     map[string][]string `json:"raw_entities"`
	Confidence      int                 `json:"confidence"`
	ClassifiedVia   string              `json:"classified_via"`
	LinkStatus      LinkStatus          `json:"link_status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}
