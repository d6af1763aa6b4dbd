package queues

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuedMessage_ParseMessage(t *testing.T) {
	const docID = int64(4821)

	t.Run("document message", func(t *testing.T) {
		original := &DocumentMessage{
			DocumentID:      docID,
			SourceMessageID: "msg-001",
			Priority:        PriorityHigh,
			Reclassify:      true,
		}
		raw, err := json.Marshal(original)
		require.NoError(t, err)

		qm := &QueuedMessage{
			ID:          "q-1",
			Message:     raw,
			MessageType: MessageTypeDocument,
			Priority:    original.Priority,
		}
		parsed, err := qm.ParseMessage()
		require.NoError(t, err)

		msg, ok := parsed.(*DocumentMessage)
		require.True(t, ok)
		assert.Equal(t, docID, msg.DocumentID)
		assert.True(t, msg.Reclassify)
		assert.Equal(t, PriorityHigh, msg.GetPriority())
	})

	t.Run("relink message has no document", func(t *testing.T) {
		original := &RelinkMessage{
			ShipmentID:     77,
			IdentifierKind: "booking",
			Identifier:     "6441804980",
			Priority:       PriorityLow,
		}
		raw, err := json.Marshal(original)
		require.NoError(t, err)

		qm := &QueuedMessage{Message: raw, MessageType: MessageTypeRelink}
		parsed, err := qm.ParseMessage()
		require.NoError(t, err)

		assert.Equal(t, int64(0), parsed.GetDocumentID())
		assert.Equal(t, MessageTypeRelink, parsed.GetMessageType())
	})

	t.Run("unknown message type", func(t *testing.T) {
		qm := &QueuedMessage{Message: []byte(`{}`), MessageType: "mystery"}
		_, err := qm.ParseMessage()
		assert.ErrorIs(t, err, ErrUnknownMessageType)
	})
}

func TestDefaultQueueConfigs(t *testing.T) {
	configs := DefaultQueueConfigs()

	docs, ok := configs[QueueDocuments]
	require.True(t, ok)
	assert.Equal(t, QueueDocuments, docs.Name)
	// Longer than the relink visibility window: document processing can
	// include an AI round trip.
	assert.Greater(t, docs.VisibilityTimeout, configs[QueueRelink].VisibilityTimeout)
	assert.Equal(t, 24*time.Hour, docs.RetentionPeriod)
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryBackoff(1))
	assert.Equal(t, 4*time.Second, retryBackoff(2))
	assert.Equal(t, 5*time.Minute, retryBackoff(20))
}
