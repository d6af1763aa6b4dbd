// Package classify assigns document type, direction, and thread role to a
// raw freight document.
//
// Classification runs in two stages: an ordered list of carrier-scoped
// deterministic rules first, then an AI collaborator for whatever the rules
// can't place with enough confidence. Each rule is a small pure predicate;
// rule sets compose via first-match-wins, so adding a carrier never touches
// existing rules.
package classify

import (
	"github.com/caravelhq/caravel-cli/pkg/docs"
)

// Message is the classification-relevant slice of an ingested email.
type Message struct {
	Subject         string
	Sender          string
	BodyExcerpt     string
	AttachmentNames []string
}

// Classification is the finalized outcome for one document.
type Classification struct {
	DocumentType docs.Type       `json:"document_type"`
	Direction    docs.Direction  `json:"direction"`
	ThreadRole   docs.ThreadRole `json:"thread_role"`
	Confidence   int             `json:"confidence"`
	// Via records how the type was decided: a pattern id, "ai", or
	// "default" when both stages were inconclusive.
	Via string `json:"via"`
	// Reasoning carries the AI's explanation when Via is "ai".
	Reasoning string `json:"reasoning,omitempty"`
}

// Via values for non-pattern outcomes.
const (
	ViaAI      = "ai"
	ViaDefault = "default"
)

// DefaultThreshold is the pattern confidence below which the AI collaborator
// is consulted.
const DefaultThreshold = 70

// Rule is one deterministic classification rule. Rules are carrier-scoped
// (the sender domain gates which set applies) and ordered most-specific
// first within a set.
type Rule struct {
	// ID is the matched_pattern_id recorded on the document.
	ID           string
	DocumentType docs.Type
	Confidence   int
	Matches      func(*Message) bool
}
