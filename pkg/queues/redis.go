package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using Redis sorted sets: one per queue for
// ready messages, one for in-flight messages, plus a per-message data key.
type RedisQueue struct {
	client     *redis.Client
	name       string
	config     QueueConfig
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// NewRedisQueue creates a new Redis-backed queue.
func NewRedisQueue(client *redis.Client, config QueueConfig) *RedisQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisQueue{
		client:     client,
		name:       config.Name,
		config:     config,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Redis key prefixes
const (
	keyPrefixQueue      = "queue:"      // ready messages (sorted set by priority)
	keyPrefixProcessing = "processing:" // in-flight messages
	keyPrefixMessage    = "msg:"        // message payloads
	keyPrefixDLQ        = "dlq:"        // dead letter queue
)

// Name returns the queue name.
func (q *RedisQueue) Name() string {
	return q.name
}

// Enqueue adds a message to the queue.
func (q *RedisQueue) Enqueue(msg Message) error {
	return q.EnqueueBatch([]Message{msg})
}

// EnqueueBatch adds multiple messages to the queue in one round trip.
func (q *RedisQueue) EnqueueBatch(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	pipe := q.client.TxPipeline()
	queueKey := keyPrefixQueue + q.name
	now := time.Now()

	for _, msg := range msgs {
		messageID := uuid.New().String()

		msgBytes, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshaling message: %w", err)
		}

		qm := &QueuedMessage{
			ID:          messageID,
			Message:     msgBytes,
			MessageType: msg.GetMessageType(),
			Priority:    msg.GetPriority(),
			EnqueuedAt:  now,
		}
		qmBytes, err := json.Marshal(qm)
		if err != nil {
			return fmt.Errorf("marshaling queued message: %w", err)
		}

		msgKey := keyPrefixMessage + q.name + ":" + messageID
		pipe.Set(q.ctx, msgKey, qmBytes, q.config.RetentionPeriod)
		pipe.ZAdd(q.ctx, queueKey, redis.Z{Score: queueScore(msg.GetPriority(), now), Member: messageID})
	}

	if _, err := pipe.Exec(q.ctx); err != nil {
		return fmt.Errorf("enqueueing batch: %w", err)
	}
	return nil
}

// queueScore orders the ready set: priority dominates, enqueue time breaks
// ties so dequeue is FIFO within a priority band.
func queueScore(priority Priority, at time.Time) float64 {
	return float64(priority)*1e12 + float64(at.UnixNano())
}

// Dequeue retrieves up to maxMessages, blocking for at most timeout.
// Dequeued messages move to the processing set under a visibility timeout;
// unacked messages are recovered by RecoverStaleMessages.
func (q *RedisQueue) Dequeue(maxMessages int, timeout time.Duration) ([]*QueuedMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	queueKey := keyPrefixQueue + q.name
	processingKey := keyPrefixProcessing + q.name
	deadline := time.Now().Add(timeout)

	var messages []*QueuedMessage

	for time.Now().Before(deadline) && len(messages) < maxMessages {
		result, err := q.client.ZPopMax(q.ctx, queueKey, 1).Result()
		if err == redis.Nil || len(result) == 0 {
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-q.ctx.Done():
				return messages, q.ctx.Err()
			}
		}
		if err != nil {
			return messages, fmt.Errorf("popping from queue: %w", err)
		}

		messageID := result[0].Member.(string)
		msgKey := keyPrefixMessage + q.name + ":" + messageID

		data, err := q.client.Get(q.ctx, msgKey).Bytes()
		if err == redis.Nil {
			// Payload expired past retention, drop the stub.
			continue
		}
		if err != nil {
			return messages, fmt.Errorf("reading message payload: %w", err)
		}

		var qm QueuedMessage
		if err := json.Unmarshal(data, &qm); err != nil {
			return messages, fmt.Errorf("unmarshaling message: %w", err)
		}

		// A nacked message may carry a backoff delay; leave it in the
		// ready set until it is due.
		if !qm.VisibleAfter.IsZero() && qm.VisibleAfter.After(time.Now()) {
			q.client.ZAdd(q.ctx, queueKey, result[0])
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-q.ctx.Done():
				return messages, q.ctx.Err()
			}
		}

		visibleAfter := time.Now().Add(q.config.VisibilityTimeout)
		qm.VisibleAfter = visibleAfter
		updatedData, _ := json.Marshal(qm)

		pipe := q.client.TxPipeline()
		pipe.Set(q.ctx, msgKey, updatedData, q.config.RetentionPeriod)
		pipe.ZAdd(q.ctx, processingKey, redis.Z{
			Score:  float64(visibleAfter.UnixNano()),
			Member: messageID,
		})
		if _, err := pipe.Exec(q.ctx); err != nil {
			return messages, fmt.Errorf("moving to processing: %w", err)
		}

		messages = append(messages, &qm)
	}

	return messages, nil
}

// Ack acknowledges successful processing of a message.
func (q *RedisQueue) Ack(messageID string) error {
	processingKey := keyPrefixProcessing + q.name
	msgKey := keyPrefixMessage + q.name + ":" + messageID

	pipe := q.client.TxPipeline()
	pipe.ZRem(q.ctx, processingKey, messageID)
	pipe.Del(q.ctx, msgKey)
	if _, err := pipe.Exec(q.ctx); err != nil {
		return fmt.Errorf("acking message: %w", err)
	}
	return nil
}

// Nack indicates processing failure; the message re-enters the ready set
// with exponential backoff, or moves to the DLQ past max retries.
func (q *RedisQueue) Nack(messageID string) error {
	processingKey := keyPrefixProcessing + q.name
	msgKey := keyPrefixMessage + q.name + ":" + messageID

	data, err := q.client.Get(q.ctx, msgKey).Bytes()
	if err == redis.Nil {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("reading message: %w", err)
	}

	var qm QueuedMessage
	if err := json.Unmarshal(data, &qm); err != nil {
		return fmt.Errorf("unmarshaling message: %w", err)
	}

	qm.RetryCount++
	if qm.RetryCount >= q.config.MaxRetries {
		return q.MoveToDeadLetter(messageID, "max retries exceeded")
	}

	qm.VisibleAfter = time.Now().Add(retryBackoff(qm.RetryCount))
	updatedData, _ := json.Marshal(qm)

	queueKey := keyPrefixQueue + q.name
	pipe := q.client.TxPipeline()
	pipe.ZRem(q.ctx, processingKey, messageID)
	pipe.Set(q.ctx, msgKey, updatedData, q.config.RetentionPeriod)
	pipe.ZAdd(q.ctx, queueKey, redis.Z{
		Score:  queueScore(qm.Priority, qm.VisibleAfter),
		Member: messageID,
	})
	if _, err := pipe.Exec(q.ctx); err != nil {
		return fmt.Errorf("nacking message: %w", err)
	}
	return nil
}

// MoveToDeadLetter moves a message to the dead letter queue.
func (q *RedisQueue) MoveToDeadLetter(messageID string, reason string) error {
	processingKey := keyPrefixProcessing + q.name
	msgKey := keyPrefixMessage + q.name + ":" + messageID
	dlqKey := keyPrefixDLQ + q.name

	data, err := q.client.Get(q.ctx, msgKey).Bytes()
	if err == redis.Nil {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("reading message: %w", err)
	}

	dlqEntry := map[string]interface{}{
		"message":    string(data),
		"reason":     reason,
		"moved_at":   time.Now().Format(time.RFC3339),
		"queue_name": q.name,
	}
	dlqData, _ := json.Marshal(dlqEntry)

	pipe := q.client.TxPipeline()
	pipe.ZRem(q.ctx, processingKey, messageID)
	pipe.Del(q.ctx, msgKey)
	pipe.ZAdd(q.ctx, dlqKey, redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: string(dlqData),
	})
	if _, err := pipe.Exec(q.ctx); err != nil {
		return fmt.Errorf("moving to DLQ: %w", err)
	}
	return nil
}

// Depth returns the current ready-set depth.
func (q *RedisQueue) Depth() (int64, error) {
	return q.client.ZCard(q.ctx, keyPrefixQueue+q.name).Result()
}

// Close closes the queue.
func (q *RedisQueue) Close() error {
	q.cancelFunc()
	return nil
}

// retryBackoff is exponential: 2s, 4s, 8s, ..., capped at 5 minutes.
func retryBackoff(retryCount int) time.Duration {
	backoff := time.Second * (1 << uint(retryCount))
	if max := 5 * time.Minute; backoff > max {
		return max
	}
	return backoff
}

// RecoverStaleMessages re-enqueues in-flight messages whose visibility
// timeout expired. Called periodically by the worker supervisor.
func (q *RedisQueue) RecoverStaleMessages() error {
	processingKey := keyPrefixProcessing + q.name
	queueKey := keyPrefixQueue + q.name

	now := float64(time.Now().UnixNano())
	stale, err := q.client.ZRangeByScore(q.ctx, processingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("finding stale messages: %w", err)
	}

	for _, messageID := range stale {
		msgKey := keyPrefixMessage + q.name + ":" + messageID

		data, err := q.client.Get(q.ctx, msgKey).Bytes()
		if err == redis.Nil {
			q.client.ZRem(q.ctx, processingKey, messageID)
			continue
		}
		if err != nil {
			continue
		}

		var qm QueuedMessage
		if err := json.Unmarshal(data, &qm); err != nil {
			continue
		}

		qm.RetryCount++
		if qm.RetryCount >= q.config.MaxRetries {
			q.MoveToDeadLetter(messageID, "visibility timeout exceeded")
			continue
		}

		qm.VisibleAfter = time.Time{}
		updatedData, _ := json.Marshal(qm)
		pipe := q.client.TxPipeline()
		pipe.ZRem(q.ctx, processingKey, messageID)
		pipe.Set(q.ctx, msgKey, updatedData, q.config.RetentionPeriod)
		pipe.ZAdd(q.ctx, queueKey, redis.Z{
			Score:  queueScore(qm.Priority, time.Now()),
			Member: messageID,
		})
		pipe.Exec(q.ctx)
	}

	return nil
}

// Verify interface compliance
var _ Queue = (*RedisQueue)(nil)
