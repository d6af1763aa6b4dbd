package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravelhq/caravel-cli/pkg/logging"
)

// LogWriter persists structured log entries to the processing_logs table.
// It implements logging.LogWriter for use behind a logging.DBSink.
type LogWriter struct {
	pool *pgxpool.Pool
}

// NewLogWriter creates a log writer over an established pool.
func NewLogWriter(pool *pgxpool.Pool) *LogWriter {
	return &LogWriter{pool: pool}
}

// WriteBatch inserts a batch of log entries in one round trip.
func (w *LogWriter) WriteBatch(ctx context.Context, entries []logging.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		fields, err := json.Marshal(e.Fields)
		if err != nil {
			fields = []byte("{}")
		}
		batch.Queue(`
			INSERT INTO processing_logs (logged_at, level, service, message, fields, trace_id, caller)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.Timestamp, e.Level, e.Service, e.Message, fields, e.TraceID, e.Caller,
		)
	}

	results := w.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting log entries: %w", err)
		}
	}
	return nil
}
