// Package entities merges entity values extracted from an email body and its
// attachments into one normalized per-document entity set.
//
// Conflicts within a single document are resolved here (first non-empty
// normalized value wins); conflicts across documents belong to the authority
// resolver.
package entities

// Type identifies a tracked entity field.
type Type string

const (
	TypeBookingNumber   Type = "booking_number"
	TypeBLNumber        Type = "bl_number"
	TypeContainerNumber Type = "container_number"
	TypeVesselName      Type = "vessel_name"
	TypeVoyageNumber    Type = "voyage_number"
	TypePortOfLoading   Type = "port_of_loading"
	TypePortOfDischarge Type = "port_of_discharge"
	TypeETD             Type = "etd"
	TypeETA             Type = "eta"
	TypeSICutoff        Type = "si_cutoff"
	TypeVGMCutoff       Type = "vgm_cutoff"
	TypeCYCutoff        Type = "cy_cutoff"
	TypeShipperName     Type = "shipper_name"
	TypeConsigneeName   Type = "consignee_name"

	// Secondary identifiers. Extracted and audited, but deliberately not
	// used by the link cascade: they are not guaranteed unique across
	// shipments.
	TypeJobNumber        Type = "job_number"
	TypePONumber         Type = "po_number"
	TypeCustomsReference Type = "customs_reference"
)

// ScalarTypes lists every single-valued entity type, i.e. everything except
// container_number.
var ScalarTypes = []Type{
	TypeBookingNumber, TypeBLNumber, TypeVesselName, TypeVoyageNumber,
	TypePortOfLoading, TypePortOfDischarge, TypeETD, TypeETA,
	TypeSICutoff, TypeVGMCutoff, TypeCYCutoff,
	TypeShipperName, TypeConsigneeName,
	TypeJobNumber, TypePONumber, TypeCustomsReference,
}

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	if t == TypeContainerNumber {
		return true
	}
	for _, s := range ScalarTypes {
		if t == s {
			return true
		}
	}
	return false
}

// RawEntity is one pre-normalization value reported by the extraction
// service for a body or attachment.
type RawEntity struct {
	Type       Type   `json:"entity_type"`
	Value      string `json:"value"`
	Confidence int    `json:"confidence"`
}

// EntitySet is the merged, normalized entity view of one document. Scalar
// fields hold the first normalized value encountered; container numbers keep
// every distinct normalized value since one document can reference many
// containers.
type EntitySet struct {
	Scalars    map[Type]string
	Containers []string
}

// NewEntitySet returns an empty set.
func NewEntitySet() EntitySet {
	return EntitySet{Scalars: make(map[Type]string)}
}

// Get returns the scalar value for t, if present.
func (s EntitySet) Get(t Type) (string, bool) {
	v, ok := s.Scalars[t]
	return v, ok
}

// HasIdentifier reports whether the set carries any identifier usable by the
// link cascade.
func (s EntitySet) HasIdentifier() bool {
	if _, ok := s.Scalars[TypeBookingNumber]; ok {
		return true
	}
	if _, ok := s.Scalars[TypeBLNumber]; ok {
		return true
	}
	return len(s.Containers) > 0
}

// Rejection records an extracted value that failed normalization. Rejections
// are excluded from the EntitySet but must reach the audit log; a silently
// dropped value is a debugging dead end.
type Rejection struct {
	Type     Type
	RawValue string
	Reason   string
}
