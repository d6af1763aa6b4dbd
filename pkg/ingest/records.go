// Package ingest imports structured document records from JSON files and
// queues them for pipeline processing. One record per file; directories are
// walked recursively. Upserts are keyed on source_message_id, so re-running
// a directory after an interruption skips what already landed.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caravelhq/caravel-cli/pkg/docs"
)

// Record is the intake shape of one document file. Classification fields are
// intentionally absent; the pipeline decides those.
type Record struct {
	SourceMessageID string    `json:"source_message_id"`
	ReceivedAt      time.Time `json:"received_at"`
	SenderAddress   string    `json:"sender_address"`
	Subject         string    `json:"subject"`
	BodyExcerpt     string    `json:"body_excerpt"`
	AttachmentNames []string  `json:"attachment_names,omitempty"`
}

// Validate checks the fields intake cannot proceed without.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.SourceMessageID) == "" {
		return fmt.Errorf("source_message_id is required")
	}
	if r.ReceivedAt.IsZero() {
		return fmt.Errorf("received_at is required")
	}
	if strings.TrimSpace(r.SenderAddress) == "" {
		return fmt.Errorf("sender_address is required")
	}
	return nil
}

// ReadRecord loads and validates one record file.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record file: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Document converts the record to a pending, unclassified document.
func (r *Record) Document() *docs.Document {
	return &docs.Document{
		SourceMessageID: r.SourceMessageID,
		DocumentType:    docs.TypeUnknown,
		Direction:       docs.DirectionUnknown,
		ThreadRole:      docs.ThreadRolePrimary,
		ReceivedAt:      r.ReceivedAt,
		SenderAddress:   r.SenderAddress,
		Subject:         r.Subject,
		BodyExcerpt:     r.BodyExcerpt,
		AttachmentNames: r.AttachmentNames,
		LinkStatus:      docs.LinkStatusPending,
	}
}
