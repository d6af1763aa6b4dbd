package classify

import (
	"strings"

	"github.com/caravelhq/caravel-cli/pkg/docs"
)

// DomainSet resolves sender addresses to carriers and to our own
// organization. Both sets come from configuration; the carrier set also
// gates which deterministic rule set applies.
type DomainSet struct {
	// carriers maps a sender domain to a carrier key ("maersk", "cosco", ...).
	carriers map[string]string
	// own holds our organization's sending domains.
	own map[string]bool
}

// NewDomainSet builds a DomainSet from configuration maps. Keys are
// lowercased domains.
func NewDomainSet(carrierDomains map[string]string, ownDomains []string) *DomainSet {
	carriers := make(map[string]string, len(carrierDomains))
	for domain, carrier := range carrierDomains {
		carriers[strings.ToLower(domain)] = carrier
	}
	own := make(map[string]bool, len(ownDomains))
	for _, domain := range ownDomains {
		own[strings.ToLower(domain)] = true
	}
	return &DomainSet{carriers: carriers, own: own}
}

// DefaultCarrierDomains is the shipped carrier domain table.
var DefaultCarrierDomains = map[string]string{
	"maersk.com":         "maersk",
	"sealandmaersk.com":  "maersk",
	"coscoshipping.com":  "cosco",
	"cosco.com":          "cosco",
	"msc.com":            "msc",
	"hapag-lloyd.com":    "hapag",
	"one-line.com":       "one",
	"evergreen-line.com": "evergreen",
	"cma-cgm.com":        "cmacgm",
}

// Carrier returns the carrier key for a sender address, if its domain is a
// known carrier domain.
func (d *DomainSet) Carrier(sender string) (string, bool) {
	domain := extractDomain(sender)
	if domain == "" {
		return "", false
	}
	carrier, ok := d.carriers[domain]
	return carrier, ok
}

// IsCarrier reports whether the sender address belongs to a known carrier.
func (d *DomainSet) IsCarrier(sender string) bool {
	_, ok := d.Carrier(sender)
	return ok
}

// Direction classifies the sender against the carrier and own-organization
// sets. Anything recognized as our own organization is outbound; known
// carriers are inbound; everything else is Unknown. The inbound default for
// Unknown is applied by the pipeline in exactly one logged place, not here,
// because forwarded carrier mail makes the default genuinely uncertain.
func (d *DomainSet) Direction(sender string) docs.Direction {
	domain := extractDomain(sender)
	if domain == "" {
		return docs.DirectionUnknown
	}
	if d.own[domain] {
		return docs.DirectionOutbound
	}
	if _, ok := d.carriers[domain]; ok {
		return docs.DirectionInbound
	}
	return docs.DirectionUnknown
}

// extractDomain pulls the lowercased domain out of an address like
// "Ops Desk <ops@maersk.com>" or a bare "ops@maersk.com".
func extractDomain(sender string) string {
	addr := sender
	if start := strings.LastIndex(addr, "<"); start >= 0 {
		if end := strings.Index(addr[start:], ">"); end > 0 {
			addr = addr[start+1 : start+end]
		}
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}
