package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectThread(t *testing.T) {
	tests := []struct {
		subject   string
		wantRole  string
		wantDepth int
		wantClean string
	}{
		{"Booking Confirmation 6441804980", "primary", 0, "Booking Confirmation 6441804980"},
		{"RE: Booking Confirmation 6441804980", "reply", 1, "Booking Confirmation 6441804980"},
		{"re: re: Arrival Notice", "reply", 2, "Arrival Notice"},
		{"FW: Booking Confirmation 6441804980", "forward", 1, "Booking Confirmation 6441804980"},
		{"Fwd: Arrival Notice", "forward", 1, "Arrival Notice"},
		// A forward marker below replies still makes the whole thing a forward.
		{"RE: FW: Arrival Notice", "forward", 2, "Arrival Notice"},
		{"FW: RE: Arrival Notice", "forward", 2, "Arrival Notice"},
		// Localized client prefixes.
		{"AW: Booking Confirmation", "reply", 1, "Booking Confirmation"},
		{"WG: Booking Confirmation", "forward", 1, "Booking Confirmation"},
		// Markers mid-subject are content, not thread markers.
		{"Question re: demurrage", "primary", 0, "Question re: demurrage"},
		{"  RE:   padded subject  ", "reply", 1, "padded subject"},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			got := DetectThread(tt.subject)
			assert.Equal(t, tt.wantRole, got.Role)
			assert.Equal(t, tt.wantDepth, got.Depth)
			assert.Equal(t, tt.wantClean, got.CleanSubject)
		})
	}
}

func TestHasNewContent(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{
			name: "plain new text",
			body: "Please see updated cutoff below.",
			want: true,
		},
		{
			name: "empty body",
			body: "",
			want: false,
		},
		{
			name: "only quoted lines",
			body: "> Vessel: EVER GIVEN\n> ETD: 2026-03-10\n",
			want: false,
		},
		{
			name: "new text above quoted history",
			body: "Noted, thanks.\n\n> Vessel: EVER GIVEN\n",
			want: true,
		},
		{
			name: "only an original-message block",
			body: "\n-----Original Message-----\nFrom: carrier\nVessel: EVER GIVEN\n",
			want: false,
		},
		{
			name: "text above original-message block",
			body: "ETA slipped to the 14th.\n-----Original Message-----\nFrom: carrier\n",
			want: true,
		},
		{
			name: "only a wrote attribution and quote",
			body: "On Tue, Mar 10, 2026, Ops Desk wrote:\n> please confirm\n",
			want: false,
		},
		{
			name: "text above a wrote attribution",
			body: "Confirmed.\nOn Tue, Mar 10, 2026, Ops Desk wrote:\n> please confirm\n",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasNewContent(tt.body))
		})
	}
}
