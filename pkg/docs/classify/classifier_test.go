package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/logging"
)

// stubAI returns a canned answer or error and records whether it was called.
type stubAI struct {
	result AIResult
	err    error
	calls  int
}

func (s *stubAI) ClassifyDocument(_ context.Context, _ AIRequest) (AIResult, error) {
	s.calls++
	return s.result, s.err
}

func testDomains() *DomainSet {
	return NewDomainSet(DefaultCarrierDomains, []string{"caravelfreight.com"})
}

func TestClassify_PatternMatch(t *testing.T) {
	tests := []struct {
		name       string
		msg        Message
		wantType   docs.Type
		wantVia    string
		wantConf   int
		wantDir    docs.Direction
		wantThread docs.ThreadRole
	}{
		{
			name: "maersk booking confirmation",
			msg: Message{
				Subject: "Booking Confirmation 6441804980",
				Sender:  "noreply@maersk.com",
			},
			wantType:   docs.TypeBookingConfirmation,
			wantVia:    "maersk_booking_confirmation",
			wantConf:   90,
			wantDir:    docs.DirectionInbound,
			wantThread: docs.ThreadRolePrimary,
		},
		{
			name: "maersk sob wins over generic booking wording",
			msg: Message{
				Subject: "Shipped on Board - Booking 6441804980",
				Sender:  "noreply@maersk.com",
			},
			wantType:   docs.TypeSOBConfirmation,
			wantVia:    "maersk_sob_confirmation",
			wantConf:   95,
			wantDir:    docs.DirectionInbound,
			wantThread: docs.ThreadRolePrimary,
		},
		{
			name: "cancellation from carrier",
			msg: Message{
				Subject: "Booking Cancelled - 6441804980",
				Sender:  "bookings@msc.com",
			},
			wantType:   docs.TypeBookingCancellation,
			wantVia:    "msc_booking_cancellation",
			wantConf:   95,
			wantDir:    docs.DirectionInbound,
			wantThread: docs.ThreadRolePrimary,
		},
		{
			name: "generic rules apply to unknown sender",
			msg: Message{
				Subject: "VGM Confirmation for MSKU5710288",
				Sender:  "terminal@portops.example.com",
			},
			wantType:   docs.TypeVGMConfirmation,
			wantVia:    "generic_vgm_confirmation",
			wantConf:   80,
			wantDir:    docs.DirectionUnknown,
			wantThread: docs.ThreadRolePrimary,
		},
		{
			name: "own domain is outbound",
			msg: Message{
				Subject: "Shipping Instruction draft for booking 6441804980",
				Sender:  "Ops Desk <ops@caravelfreight.com>",
			},
			wantType:   docs.TypeShippingInstruction,
			wantVia:    "generic_shipping_instruction",
			wantConf:   75,
			wantDir:    docs.DirectionOutbound,
			wantThread: docs.ThreadRolePrimary,
		},
		{
			name: "reply with new content still pattern-classified",
			msg: Message{
				Subject:     "RE: Arrival Notice MAEU123456789",
				Sender:      "noreply@maersk.com",
				BodyExcerpt: "Updated ETA is 2026-03-14.\n> original text",
			},
			wantType:   docs.TypeArrivalNotice,
			wantVia:    "maersk_arrival_notice",
			wantConf:   90,
			wantDir:    docs.DirectionInbound,
			wantThread: docs.ThreadRoleReply,
		},
	}

	c := New(testDomains(), nil, logging.NewNopLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(context.Background(), &tt.msg)
			assert.Equal(t, tt.wantType, got.DocumentType)
			assert.Equal(t, tt.wantVia, got.Via)
			assert.Equal(t, tt.wantConf, got.Confidence)
			assert.Equal(t, tt.wantDir, got.Direction)
			assert.Equal(t, tt.wantThread, got.ThreadRole)
		})
	}
}

func TestClassify_AIFallback(t *testing.T) {
	msg := Message{
		Subject: "Documents attached for your shipment",
		Sender:  "agent@overseas.example.com",
	}

	t.Run("ai answer inside type set is final", func(t *testing.T) {
		ai := &stubAI{result: AIResult{
			DocumentType: string(docs.TypeCargoRelease),
			Confidence:   82,
			Reasoning:    "delivery order wording in body",
		}}
		c := New(testDomains(), ai, logging.NewNopLogger())

		got := c.Classify(context.Background(), &msg)
		require.Equal(t, 1, ai.calls)
		assert.Equal(t, docs.TypeCargoRelease, got.DocumentType)
		assert.Equal(t, 82, got.Confidence)
		assert.Equal(t, ViaAI, got.Via)
		assert.Equal(t, "delivery order wording in body", got.Reasoning)
	})

	t.Run("sub-threshold pattern hit consults ai", func(t *testing.T) {
		ai := &stubAI{result: AIResult{
			DocumentType: string(docs.TypeDutyInvoice),
			Confidence:   88,
		}}
		c := New(testDomains(), ai, logging.NewNopLogger())

		// generic_invoice matches at 60, below the threshold of 70.
		got := c.Classify(context.Background(), &Message{
			Subject: "Invoice 20260314-001",
			Sender:  "billing@broker.example.com",
		})
		require.Equal(t, 1, ai.calls)
		assert.Equal(t, docs.TypeDutyInvoice, got.DocumentType)
		assert.Equal(t, ViaAI, got.Via)
	})

	t.Run("ai error degrades to general correspondence", func(t *testing.T) {
		ai := &stubAI{err: errors.New("request timed out")}
		c := New(testDomains(), ai, logging.NewNopLogger())

		got := c.Classify(context.Background(), &msg)
		assert.Equal(t, docs.TypeGeneralCorrespondence, got.DocumentType)
		assert.Equal(t, 0, got.Confidence)
		assert.Equal(t, ViaDefault, got.Via)
	})

	t.Run("out-of-set ai answer is discarded", func(t *testing.T) {
		ai := &stubAI{result: AIResult{DocumentType: "purchase_order", Confidence: 99}}
		c := New(testDomains(), ai, logging.NewNopLogger())

		got := c.Classify(context.Background(), &msg)
		assert.Equal(t, docs.TypeGeneralCorrespondence, got.DocumentType)
		assert.Equal(t, 0, got.Confidence)
		assert.Equal(t, ViaDefault, got.Via)
	})

	t.Run("nil ai degrades without panicking", func(t *testing.T) {
		c := New(testDomains(), nil, logging.NewNopLogger())

		got := c.Classify(context.Background(), &msg)
		assert.Equal(t, docs.TypeGeneralCorrespondence, got.DocumentType)
		assert.Equal(t, ViaDefault, got.Via)
	})

	t.Run("clamps out-of-range ai confidence", func(t *testing.T) {
		ai := &stubAI{result: AIResult{
			DocumentType: string(docs.TypeInvoice),
			Confidence:   140,
		}}
		c := New(testDomains(), ai, logging.NewNopLogger())

		got := c.Classify(context.Background(), &msg)
		assert.Equal(t, 100, got.Confidence)
	})
}

func TestClassify_QuoteOnlyReplySkipsBothStages(t *testing.T) {
	ai := &stubAI{result: AIResult{DocumentType: string(docs.TypeInvoice), Confidence: 90}}
	c := New(testDomains(), ai, logging.NewNopLogger())

	got := c.Classify(context.Background(), &Message{
		Subject:     "RE: Booking Confirmation 6441804980",
		Sender:      "shipper@customer.example.com",
		BodyExcerpt: "\n> Please find attached your booking confirmation.\n> Vessel: EVER GIVEN\n",
	})

	assert.Equal(t, 0, ai.calls, "quote-only reply must not reach the AI stage")
	assert.Equal(t, docs.TypeGeneralCorrespondence, got.DocumentType)
	assert.Equal(t, docs.ThreadRoleReply, got.ThreadRole)
	assert.Equal(t, ViaDefault, got.Via)
}

func TestClassify_CustomThreshold(t *testing.T) {
	ai := &stubAI{result: AIResult{DocumentType: string(docs.TypeInvoice), Confidence: 90}}
	c := New(testDomains(), ai, logging.NewNopLogger(), WithThreshold(50))

	// With the threshold lowered to 50, the 60-confidence invoice rule is
	// decisive and the AI is never consulted.
	got := c.Classify(context.Background(), &Message{
		Subject: "Invoice 20260314-001",
		Sender:  "billing@broker.example.com",
	})
	assert.Equal(t, 0, ai.calls)
	assert.Equal(t, docs.TypeInvoice, got.DocumentType)
	assert.Equal(t, "generic_invoice", got.Via)
}

func TestClassify_Deterministic(t *testing.T) {
	c := New(testDomains(), nil, logging.NewNopLogger())
	msg := Message{
		Subject: "FW: RE: Booking Confirmation 6441804980",
		Sender:  "noreply@maersk.com",
		BodyExcerpt: "Forwarding for your records.\n" +
			"-----Original Message-----\nfrom before",
	}

	first := c.Classify(context.Background(), &msg)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Classify(context.Background(), &msg))
	}
}

func TestSenderIsCarrier(t *testing.T) {
	c := New(testDomains(), nil, logging.NewNopLogger())
	assert.True(t, c.SenderIsCarrier("Maersk Line <noreply@maersk.com>"))
	assert.False(t, c.SenderIsCarrier("ops@caravelfreight.com"))
	assert.False(t, c.SenderIsCarrier("someone@random.example.com"))
}
