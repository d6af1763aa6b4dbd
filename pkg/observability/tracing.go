package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer for pipeline operations.
const TracerName = "caravel"

// Span attribute keys
const (
	AttrDocumentID   = "document_id"
	AttrShipmentID   = "shipment_id"
	AttrBatchID      = "batch_id"
	AttrDocumentType = "document_type"
	AttrDirection    = "direction"
	AttrVia          = "via"
	AttrStage        = "stage"
	AttrEntityType   = "entity_type"
	AttrMatchedBy    = "matched_by"
	AttrLinkOutcome  = "link_outcome"
	AttrReasonCode   = "reason_code"
	AttrWorkflowState = "workflow_state"
	AttrDurationMs   = "duration_ms"
	AttrErrorCode    = "error_code"
	AttrRetryable    = "retryable"
)

// Span names
const (
	SpanProcessDocument = "caravel.process_document"
	SpanStageClassify   = "caravel.stage.classify"
	SpanStageExtract    = "caravel.stage.extract"
	SpanStageLink       = "caravel.stage.link"
	SpanStageMerge      = "caravel.stage.merge"
	SpanStageFold       = "caravel.stage.fold"
	SpanAICall          = "caravel.ai_call"
	SpanRelinkSweep     = "caravel.relink_sweep"
)

// Tracer provides distributed tracing for pipeline operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new pipeline tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartDocumentSpan starts a root span for processing one document.
func (t *Tracer) StartDocumentSpan(ctx context.Context, documentID, batchID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, SpanProcessDocument,
		trace.WithAttributes(
			attribute.String(AttrDocumentID, documentID),
		),
	)
	if batchID != "" {
		span.SetAttributes(attribute.String(AttrBatchID, batchID))
	}
	return ctx, span
}

// StartStageSpan starts a span for a pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("caravel.stage.%s", stage),
		trace.WithAttributes(
			attribute.String(AttrStage, stage),
		),
	)
}

// StartAISpan starts a span for a model service call.
func (t *Tracer) StartAISpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAICall,
		trace.WithAttributes(
			attribute.String("operation", operation),
		),
	)
}

// StartRelinkSpan starts a span for an orphan re-link sweep.
func (t *Tracer) StartRelinkSpan(ctx context.Context, shipmentID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRelinkSweep,
		trace.WithAttributes(
			attribute.String(AttrShipmentID, shipmentID),
		),
	)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetClassification sets classification attributes on the span.
func (h *SpanHelper) SetClassification(documentType, direction, via string) {
	h.span.SetAttributes(
		attribute.String(AttrDocumentType, documentType),
		attribute.String(AttrDirection, direction),
		attribute.String(AttrVia, via),
	)
}

// SetLinkOutcome sets link cascade attributes.
func (h *SpanHelper) SetLinkOutcome(outcome, matchedBy, shipmentID string) {
	h.span.SetAttributes(
		attribute.String(AttrLinkOutcome, outcome),
	)
	if matchedBy != "" {
		h.span.SetAttributes(attribute.String(AttrMatchedBy, matchedBy))
	}
	if shipmentID != "" {
		h.span.SetAttributes(attribute.String(AttrShipmentID, shipmentID))
	}
}

// SetWorkflowState sets workflow fold attributes.
func (h *SpanHelper) SetWorkflowState(state, reasonCode string) {
	h.span.SetAttributes(
		attribute.String(AttrWorkflowState, state),
		attribute.String(AttrReasonCode, reasonCode),
	)
}

// SetDuration sets the duration attribute.
func (h *SpanHelper) SetDuration(durationMs int64) {
	h.span.SetAttributes(attribute.Int64(AttrDurationMs, durationMs))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, errorCode string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, errorCode),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func (h *SpanHelper) AddEvent(name string, attrs ...attribute.KeyValue) {
	h.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the context.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasSpanID() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
