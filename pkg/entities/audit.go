package entities

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRecord is one accepted or rejected entity value, traced back to the
// document it came from. The audit table is append-only and exists so an
// operator can answer "where did this value come from" and "why was this
// value dropped" without re-running extraction.
type AuditRecord struct {
	ID                 int64     `json:"id"`
	SourceDocumentID   int64     `json:"source_document_id"`
	SourceDocumentType string    `json:"source_document_type"`
	EntityType         Type      `json:"entity_type"`
	Value              string    `json:"value"`
	RawValue           string    `json:"raw_value"`
	Confidence         int       `json:"confidence"`
	Rejected           bool      `json:"rejected"`
	RejectReason       string    `json:"reject_reason,omitempty"`
	RecordedAt         time.Time `json:"recorded_at"`
}

// AuditRepository persists the entity value audit trail.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates an audit repository backed by the given pool.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// RecordBatch appends audit records in one round trip. A re-run for the same
// document first clears its previous trail so the table reflects the latest
// extraction, keeping re-processing idempotent.
func (r *AuditRepository) RecordBatch(ctx context.Context, documentID int64, records []AuditRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM entity_values WHERE source_document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear previous audit trail: %w", err)
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO entity_values (
				source_document_id, source_document_type, entity_type,
				value, raw_value, confidence, rejected, reject_reason
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			documentID, rec.SourceDocumentType, rec.EntityType,
			rec.Value, rec.RawValue, rec.Confidence, rec.Rejected, rec.RejectReason)
	}
	br := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close audit batch: %w", err)
	}

	return tx.Commit(ctx)
}

// ListByDocument returns the audit trail for one document, rejections
// included, in insertion order.
func (r *AuditRepository) ListByDocument(ctx context.Context, documentID int64) ([]AuditRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, source_document_id, source_document_type, entity_type,
		       value, raw_value, confidence, rejected, reject_reason, recorded_at
		FROM entity_values
		WHERE source_document_id = $1
		ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(
			&rec.ID, &rec.SourceDocumentID, &rec.SourceDocumentType,
			&rec.EntityType, &rec.Value, &rec.RawValue, &rec.Confidence,
			&rec.Rejected, &rec.RejectReason, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// BuildAuditRecords converts an aggregation outcome into audit rows for one
// document.
func BuildAuditRecords(documentType string, set EntitySet, rejections []Rejection, raws []RawEntity) []AuditRecord {
	rawByTypeValue := make(map[Type][]RawEntity)
	for _, raw := range raws {
		rawByTypeValue[raw.Type] = append(rawByTypeValue[raw.Type], raw)
	}

	confidenceFor := func(t Type) int {
		if entries := rawByTypeValue[t]; len(entries) > 0 {
			return entries[0].Confidence
		}
		return 0
	}
	rawValueFor := func(t Type) string {
		if entries := rawByTypeValue[t]; len(entries) > 0 {
			return entries[0].Value
		}
		return ""
	}

	var records []AuditRecord
	for entityType, value := range set.Scalars {
		records = append(records, AuditRecord{
			SourceDocumentType: documentType,
			EntityType:         entityType,
			Value:              value,
			RawValue:           rawValueFor(entityType),
			Confidence:         confidenceFor(entityType),
		})
	}
	for _, container := range set.Containers {
		records = append(records, AuditRecord{
			SourceDocumentType: documentType,
			EntityType:         TypeContainerNumber,
			Value:              container,
			RawValue:           rawValueFor(TypeContainerNumber),
			Confidence:         confidenceFor(TypeContainerNumber),
		})
	}
	for _, rej := range rejections {
		records = append(records, AuditRecord{
			SourceDocumentType: documentType,
			EntityType:         rej.Type,
			RawValue:           rej.RawValue,
			Rejected:           true,
			RejectReason:       rej.Reason,
		})
	}
	return records
}
