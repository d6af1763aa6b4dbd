package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caravelhq/caravel-cli/pkg/docs"
)

func TestDomainSet_Carrier(t *testing.T) {
	d := NewDomainSet(DefaultCarrierDomains, []string{"caravelfreight.com"})

	tests := []struct {
		sender      string
		wantCarrier string
		wantOK      bool
	}{
		{"noreply@maersk.com", "maersk", true},
		{"Maersk Line <noreply@maersk.com>", "maersk", true},
		{"NOREPLY@MAERSK.COM", "maersk", true},
		{"bookings@coscoshipping.com", "cosco", true},
		{"ops@caravelfreight.com", "", false},
		{"someone@random.example.com", "", false},
		{"not-an-address", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.sender, func(t *testing.T) {
			carrier, ok := d.Carrier(tt.sender)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCarrier, carrier)
		})
	}
}

func TestDomainSet_Direction(t *testing.T) {
	d := NewDomainSet(DefaultCarrierDomains, []string{"caravelfreight.com"})

	assert.Equal(t, docs.DirectionInbound, d.Direction("noreply@maersk.com"))
	assert.Equal(t, docs.DirectionOutbound, d.Direction("Ops <ops@caravelfreight.com>"))
	assert.Equal(t, docs.DirectionUnknown, d.Direction("shipper@customer.example.com"))
	assert.Equal(t, docs.DirectionUnknown, d.Direction("malformed"))
}

func TestRulesFor_Ordering(t *testing.T) {
	rules := RulesFor("maersk")
	assert.Greater(t, len(rules), len(genericRules), "carrier rules precede generic rules")
	assert.Equal(t, "maersk_sob_confirmation", rules[0].ID)

	unknown := RulesFor("")
	assert.Len(t, unknown, len(genericRules))
}
