package docs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cverrors "github.com/caravelhq/caravel-cli/pkg/errors"
)

// Repository provides PostgreSQL persistence for documents.
//
// Upsert is the only write path for new documents and is keyed on
// source_message_id so repeated ingestion of the same message is a no-op
// apart from refreshed classification fields.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a document repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts the document or, when source_message_id already exists,
// replaces its classification fields in place. The stored document (with its
// assigned ID) is returned.
func (r *Repository) Upsert(ctx context.Context, doc *Document) (*Document, error) {
	rawEntities, err := json.Marshal(doc.RawEntities)
	if err != nil {
		return nil, fmt.Errorf("marshal raw entities: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO documents (
			source_message_id, document_type, direction, thread_role,
			received_at, sender_address, subject, body_excerpt,
			attachment_names, raw_entities, confidence, classified_via,
			link_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (source_message_id) DO UPDATE SET
			document_type  = EXCLUDED.document_type,
			direction      = EXCLUDED.direction,
			thread_role    = EXCLUDED.thread_role,
			raw_entities   = EXCLUDED.raw_entities,
			confidence     = EXCLUDED.confidence,
			classified_via = EXCLUDED.classified_via,
			updated_at     = now()
		RETURNING id, created_at, updated_at`,
		doc.SourceMessageID, doc.DocumentType, doc.Direction, doc.ThreadRole,
		doc.ReceivedAt, doc.SenderAddress, doc.Subject, doc.BodyExcerpt,
		doc.AttachmentNames, rawEntities, doc.Confidence, doc.ClassifiedVia,
		doc.LinkStatus,
	)

	stored := *doc
	if err := row.Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	return &stored, nil
}

// GetByID fetches a single document.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Document, error) {
	row := r.pool.QueryRow(ctx, selectColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err == pgx.ErrNoRows {
		return nil, cverrors.ErrNotFound
	}
	return doc, err
}

// GetBySourceMessageID fetches a document by its external dedup key.
func (r *Repository) GetBySourceMessageID(ctx context.Context, sourceMessageID string) (*Document, error) {
	row := r.pool.QueryRow(ctx, selectColumns+` FROM documents WHERE source_message_id = $1`, sourceMessageID)
	doc, err := scanDocument(row)
	if err == pgx.ErrNoRows {
		return nil, cverrors.ErrNotFound
	}
	return doc, err
}

// UpdateClassification replaces classification fields in place, the only
// sanctioned post-ingest mutation of a document's identity.
func (r *Repository) UpdateClassification(ctx context.Context, id int64, docType Type, direction Direction, threadRole ThreadRole, confidence int, via string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET document_type = $2, direction = $3, thread_role = $4,
		    confidence = $5, classified_via = $6, updated_at = now()
		WHERE id = $1`,
		id, docType, direction, threadRole, confidence, via)
	if err != nil {
		return fmt.Errorf("update classification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cverrors.ErrNotFound
	}
	return nil
}

// UpdateRawEntities stores the extraction output alongside the document so
// re-linking and rebuilds can re-aggregate without another AI call.
func (r *Repository) UpdateRawEntities(ctx context.Context, id int64, raw map[string][]string) error {
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal raw entities: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET raw_entities = $2, updated_at = now() WHERE id = $1`,
		id, rawJSON)
	if err != nil {
		return fmt.Errorf("update raw entities: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cverrors.ErrNotFound
	}
	return nil
}

// UpdateLinkStatus records the outcome of a link attempt.
func (r *Repository) UpdateLinkStatus(ctx context.Context, id int64, status LinkStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET link_status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("update link status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cverrors.ErrNotFound
	}
	return nil
}

// ListPage returns documents with id > afterID in id order, at most limit
// rows. This is the cursor primitive every full-table sweep builds on; there
// is deliberately no unpaginated variant.
func (r *Repository) ListPage(ctx context.Context, afterID int64, limit int) ([]*Document, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	rows, err := r.pool.Query(ctx,
		selectColumns+` FROM documents WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// ListOrphansPage returns orphaned documents with id > afterID in id order.
func (r *Repository) ListOrphansPage(ctx context.Context, afterID int64, limit int) ([]*Document, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	rows, err := r.pool.Query(ctx,
		selectColumns+` FROM documents WHERE link_status = $1 AND id > $2 ORDER BY id LIMIT $3`,
		LinkStatusOrphaned, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// ListByIDs fetches documents by id using a set-membership filter.
func (r *Repository) ListByIDs(ctx context.Context, ids []int64) ([]*Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		selectColumns+` FROM documents WHERE id = ANY($1) ORDER BY received_at, id`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("list documents by ids: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// maxPageSize bounds every page read so no sweep can pull an unbounded
// result set.
const maxPageSize = 500

const selectColumns = `
	SELECT id, source_message_id, document_type, direction, thread_role,
	       received_at, sender_address, subject, body_excerpt,
	       attachment_names, raw_entities, confidence, classified_via,
	       link_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var rawEntities []byte
	err := row.Scan(
		&doc.ID, &doc.SourceMessageID, &doc.DocumentType, &doc.Direction,
		&doc.ThreadRole, &doc.ReceivedAt, &doc.SenderAddress, &doc.Subject,
		&doc.BodyExcerpt, &doc.AttachmentNames, &rawEntities,
		&doc.Confidence, &doc.ClassifiedVia, &doc.LinkStatus,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(rawEntities) > 0 {
		if err := json.Unmarshal(rawEntities, &doc.RawEntities); err != nil {
			return nil, fmt.Errorf("unmarshal raw entities for document %d: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func scanDocuments(rows pgx.Rows) ([]*Document, error) {
	var result []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}
