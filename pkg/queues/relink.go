package queues

import (
	"time"

	"github.com/caravelhq/caravel-cli/pkg/logging"
)

// RelinkEnqueuer publishes relink requests onto a queue when a shipment
// gains a new identifier. Enqueue failures are logged and dropped; the
// orphan sweep catches anything a lost trigger would have linked.
type RelinkEnqueuer struct {
	queue  Queue
	logger logging.Logger
}

// NewRelinkEnqueuer creates a RelinkEnqueuer backed by the given queue.
func NewRelinkEnqueuer(queue Queue, logger logging.Logger) *RelinkEnqueuer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RelinkEnqueuer{queue: queue, logger: logger}
}

// TriggerRelink enqueues a RelinkMessage for the identifier that just
// appeared on the shipment.
func (e *RelinkEnqueuer) TriggerRelink(shipmentID int64, identifierKind, identifier string) {
	msg := &RelinkMessage{
		ShipmentID:     shipmentID,
		IdentifierKind: identifierKind,
		Identifier:     identifier,
		Priority:       PriorityNormal,
		EnqueuedAt:     time.Now().UTC(),
	}
	if err := e.queue.Enqueue(msg); err != nil {
		e.logger.Warn("relink enqueue failed",
			logging.Err(err),
			logging.F("shipment_id", shipmentID),
			logging.F("identifier_kind", identifierKind),
		)
	}
}
