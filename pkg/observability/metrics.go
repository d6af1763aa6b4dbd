// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the document pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for the document pipeline.
type PipelineMetrics struct {
	// Classification metrics
	ClassificationsTotal *prometheus.CounterVec
	ClassifierConfidence *prometheus.HistogramVec

	// Extraction metrics
	EntitiesAcceptedTotal *prometheus.CounterVec
	EntitiesRejectedTotal *prometheus.CounterVec

	// Linking metrics
	LinkOutcomesTotal *prometheus.CounterVec
	OrphanDocuments   prometheus.Gauge

	// Authority metrics
	AuthorityDecisionsTotal *prometheus.CounterVec

	// Workflow metrics
	StateTransitionsTotal *prometheus.CounterVec

	// AI metrics
	AIOperationsTotal *prometheus.CounterVec
	AILatencySeconds  *prometheus.HistogramVec

	// Queue metrics
	QueueDepth    *prometheus.GaugeVec
	DLQItemsTotal *prometheus.CounterVec

	// Stage metrics
	StageSeconds        *prometheus.HistogramVec
	DocumentsProcessed  *prometheus.CounterVec
}

// DefaultPipelineMetrics creates metrics on the default registerer.
func DefaultPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetrics(prometheus.DefaultRegisterer)
}

// NewPipelineMetrics creates a new set of pipeline metrics.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)

	return &PipelineMetrics{
		ClassificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caravel_classifications_total",
				Help: "Total document classifications by type and mechanism",
			},
			[]string{"document_type", "via"},
		),
		ClassifierConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caravel_classifier_confidence",
				Help:    "Classification confidence scores",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"via"},
		),

		EntitiesAcceptedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caravel_entities_accepted_total",
				Help: "Extracted entity values accepted after normalization",
			},
			[]string{"entity_type"},
		),
		EntitiesRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caravel_entities_rejected_total",
				Help: "Extracted entity values rejected during normalization",
			},
			[]string{"entity_type", "reason"},
		),

		LinkOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caravel_link_outcomes_total",
				Help: "Document link cascade outcomes",
			},
			[]string{"outcome", "matched_by"},
		),
		OrphanDocuments: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "caravel_orphan_documents",
				Help: "Documents currently awaiting a linkable shipment",
			},
		),

		AuthorityDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caravel_authority_decisions_total",
				Help: "Field update decisions by reason code",
			},
			[]string{"entity_type", "reason_code"},
		),

		StateTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caravel_state_transitions_total",
				Help: "Workflow state transitions by target state",
			},
			[]string{"to_state", "reason_code"},
		),

		AIOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caravel_ai_operations_total",
				Help: "Total AI operations by status",
			},
			[]string{"operation", "status"},
		),
		AILatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caravel_ai_latency_seconds",
				Help:    "AI operation latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
			},
			[]string{"operation"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "caravel_queue_depth",
				Help: "Current ready-set depth per queue",
			},
			[]string{"queue"},
		),
		DLQItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caravel_dlq_items_total",
				Help: "Messages moved to the dead letter queue",
			},
			[]string{"queue", "error_code"},
		),

		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caravel_stage_seconds",
				Help:    "Pipeline stage latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"stage"},
		),
		DocumentsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caravel_documents_processed_total",
				Help: "Documents run through the pipeline by final status",
			},
			[]string{"status"},
		),
	}
}

// RecordClassification records one finished classification.
func (m *PipelineMetrics) RecordClassification(documentType, via string, confidence int) {
	m.ClassificationsTotal.WithLabelValues(documentType, via).Inc()
	m.ClassifierConfidence.WithLabelValues(via).Observe(float64(confidence))
}

// RecordEntityAccepted records an accepted entity value.
func (m *PipelineMetrics) RecordEntityAccepted(entityType string) {
	m.EntitiesAcceptedTotal.WithLabelValues(entityType).Inc()
}

// RecordEntityRejected records a rejected entity value.
func (m *PipelineMetrics) RecordEntityRejected(entityType, reason string) {
	m.EntitiesRejectedTotal.WithLabelValues(entityType, reason).Inc()
}

// RecordLinkOutcome records a link cascade outcome. matchedBy is empty for
// orphan and ambiguous outcomes.
func (m *PipelineMetrics) RecordLinkOutcome(outcome, matchedBy string) {
	m.LinkOutcomesTotal.WithLabelValues(outcome, matchedBy).Inc()
}

// SetOrphanCount sets the current orphan document count.
func (m *PipelineMetrics) SetOrphanCount(count float64) {
	m.OrphanDocuments.Set(count)
}

// RecordAuthorityDecision records a field update decision.
func (m *PipelineMetrics) RecordAuthorityDecision(entityType, reasonCode string) {
	m.AuthorityDecisionsTotal.WithLabelValues(entityType, reasonCode).Inc()
}

// RecordStateTransition records a workflow state transition.
func (m *PipelineMetrics) RecordStateTransition(toState, reasonCode string) {
	m.StateTransitionsTotal.WithLabelValues(toState, reasonCode).Inc()
}

// RecordAIOperation records an AI call and its latency.
func (m *PipelineMetrics) RecordAIOperation(operation, status string, seconds float64) {
	m.AIOperationsTotal.WithLabelValues(operation, status).Inc()
	m.AILatencySeconds.WithLabelValues(operation).Observe(seconds)
}

// SetQueueDepth sets the ready-set depth for a queue.
func (m *PipelineMetrics) SetQueueDepth(queue string, depth float64) {
	m.QueueDepth.WithLabelValues(queue).Set(depth)
}

// RecordDLQItem records a message moved to the dead letter queue.
func (m *PipelineMetrics) RecordDLQItem(queue, errorCode string) {
	m.DLQItemsTotal.WithLabelValues(queue, errorCode).Inc()
}

// RecordStage records one pipeline stage completion.
func (m *PipelineMetrics) RecordStage(stage string, seconds float64) {
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordDocumentProcessed records a finished pipeline run.
func (m *PipelineMetrics) RecordDocumentProcessed(status string) {
	m.DocumentsProcessed.WithLabelValues(status).Inc()
}
