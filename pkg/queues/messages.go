// Package queues provides the Redis-backed work queues feeding the document
// pipeline.
package queues

import (
	"encoding/json"
	"time"
)

// Priority levels for queue messages.
type Priority int

const (
	PriorityLow    Priority = 0 // backfill, reclassify sweeps
	PriorityNormal Priority = 1 // batch ingest
	PriorityHigh   Priority = 2 // live mailbox sync
)

// MessageType identifies the type of queue message.
type MessageType string

const (
	MessageTypeDocument MessageType = "document"
	MessageTypeRelink   MessageType = "relink"
)

// Queue names.
const (
	QueueDocuments = "caravel:documents"
	QueueRelink    = "caravel:relink"
)

// Message is the base interface for all queue messages.
type Message interface {
	// GetDocumentID returns the document being processed, or 0.
	GetDocumentID() int64
	// GetPriority returns the message priority.
	GetPriority() Priority
	// GetMessageType returns the message type.
	GetMessageType() MessageType
	// GetBatchID returns the batch ID if part of a batch.
	GetBatchID() string
}

// DocumentMessage asks a worker to run one stored document through the full
// pipeline: classify, extract, link, merge, fold.
type DocumentMessage struct {
	DocumentID      int64     `json:"document_id"`
	SourceMessageID string    `json:"source_message_id"`
	Priority        Priority  `json:"priority"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
	BatchID         string    `json:"batch_id,omitempty"`
	// Reclassify forces re-running classification even when the document
	// already has a confident type.
	Reclassify bool `json:"reclassify,omitempty"`
}

func (m *DocumentMessage) GetDocumentID() int64          { return m.DocumentID }
func (m *DocumentMessage) GetPriority() Priority       { return m.Priority }
func (m *DocumentMessage) GetMessageType() MessageType { return MessageTypeDocument }
func (m *DocumentMessage) GetBatchID() string          { return m.BatchID }

// RelinkMessage asks a worker to retry linking orphaned documents after the
// shipment index changed. Identifier carries the newly indexed value so the
// sweep can stay narrow.
type RelinkMessage struct {
	ShipmentID     int64     `json:"shipment_id"`
	IdentifierKind string    `json:"identifier_kind"`
	Identifier     string    `json:"identifier"`
	Priority       Priority  `json:"priority"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	BatchID        string    `json:"batch_id,omitempty"`
}

func (m *RelinkMessage) GetDocumentID() int64          { return 0 }
func (m *RelinkMessage) GetPriority() Priority       { return m.Priority }
func (m *RelinkMessage) GetMessageType() MessageType { return MessageTypeRelink }
func (m *RelinkMessage) GetBatchID() string          { return m.BatchID }

// QueuedMessage wraps a message with queue metadata.
type QueuedMessage struct {
	ID           string          `json:"id"`
	Message      json.RawMessage `json:"message"`
	MessageType  MessageType     `json:"message_type"`
	Priority     Priority        `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAfter time.Time       `json:"visible_after,omitempty"`
}

// ParseMessage parses the raw message based on message type.
func (qm *QueuedMessage) ParseMessage() (Message, error) {
	switch qm.MessageType {
	case MessageTypeDocument:
		var msg DocumentMessage
		if err := json.Unmarshal(qm.Message, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	case MessageTypeRelink:
		var msg RelinkMessage
		if err := json.Unmarshal(qm.Message, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	default:
		return nil, ErrUnknownMessageType
	}
}

// Queue defines the interface for a message queue.
type Queue interface {
	// Name returns the queue name.
	Name() string

	// Enqueue adds a message to the queue.
	Enqueue(msg Message) error

	// EnqueueBatch adds multiple messages to the queue.
	EnqueueBatch(msgs []Message) error

	// Dequeue retrieves up to maxMessages, blocking for at most timeout.
	Dequeue(maxMessages int, timeout time.Duration) ([]*QueuedMessage, error)

	// Ack acknowledges successful processing of a message.
	Ack(messageID string) error

	// Nack indicates processing failure; the message will be retried.
	Nack(messageID string) error

	// MoveToDeadLetter moves a message to the dead letter queue.
	MoveToDeadLetter(messageID string, reason string) error

	// Depth returns the current queue depth.
	Depth() (int64, error)

	// Close closes the queue connection.
	Close() error
}

// QueueConfig configures queue behavior.
type QueueConfig struct {
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetentionPeriod   time.Duration `yaml:"retention_period"`
}

// DefaultQueueConfigs returns default configurations for each queue.
func DefaultQueueConfigs() map[string]QueueConfig {
	return map[string]QueueConfig{
		QueueDocuments: {
			Name: QueueDocuments,
			// Generous because a document may need an AI round trip.
			VisibilityTimeout: 300 * time.Second,
			MaxRetries:        3,
			RetentionPeriod:   24 * time.Hour,
		},
		QueueRelink: {
			Name:              QueueRelink,
			VisibilityTimeout: 60 * time.Second,
			MaxRetries:        3,
			RetentionPeriod:   24 * time.Hour,
		},
	}
}

// Verify interface compliance
var _ Message = (*DocumentMessage)(nil)
var _ Message = (*RelinkMessage)(nil)
