package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.RecordClassification("booking_confirmation", "maersk_booking_confirmation", 90)
	m.RecordClassification("general_correspondence", "default", 0)
	m.RecordLinkOutcome("matched", "booking")
	m.RecordLinkOutcome("orphan", "")
	m.RecordAuthorityDecision("etd", "explicit_override")
	m.RecordStateTransition("sob_confirmed", "state_advanced")
	m.RecordDocumentProcessed("ok")
	m.SetQueueDepth("caravel:documents", 12)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.ClassificationsTotal.WithLabelValues("booking_confirmation", "maersk_booking_confirmation")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.LinkOutcomesTotal.WithLabelValues("orphan", "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.AuthorityDecisionsTotal.WithLabelValues("etd", "explicit_override")))
	assert.Equal(t, float64(12), testutil.ToFloat64(
		m.QueueDepth.WithLabelValues("caravel:documents")))
}

func TestPipelineMetrics_RegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPipelineMetrics(reg)
	assert.Panics(t, func() { NewPipelineMetrics(reg) })
}

func TestTraceIDWithoutSpan(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSpanID(ctx))
}

func TestTracerStartsSpans(t *testing.T) {
	tracer := NewTracer()
	ctx, span := tracer.StartDocumentSpan(context.Background(), "doc-1", "batch-1")
	require.NotNil(t, span)
	span.End()

	_, stage := tracer.StartStageSpan(ctx, "classify")
	require.NotNil(t, stage)
	stage.End()
}
