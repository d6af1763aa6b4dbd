package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cverrors "github.com/caravelhq/caravel-cli/pkg/errors"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/shipments/workflow"
)

// Repository provides PostgreSQL persistence for shipments and links.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a shipment repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new shipment and returns it with its assigned ID.
func (r *Repository) Create(ctx context.Context, s *Shipment) (*Shipment, error) {
	fields, err := json.Marshal(s.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO shipments (
			booking_number, bl_number, container_numbers, fields,
			workflow_state, workflow_state_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		nullable(s.BookingNumber), nullable(s.BLNumber), s.ContainerNumbers,
		fields, s.WorkflowState, s.WorkflowStateUpdatedAt)

	stored := *s
	if err := row.Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create shipment: %w", err)
	}
	return &stored, nil
}

// GetByID fetches a single shipment.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Shipment, error) {
	row := r.pool.QueryRow(ctx, selectShipment+` WHERE id = $1`, id)
	s, err := scanShipment(row)
	if err == pgx.ErrNoRows {
		return nil, cverrors.ErrNotFound
	}
	return s, err
}

// FindByBookingNumber returns every shipment holding the normalized booking
// number. The linker needs all matches, not the first: more than one is a
// data-quality anomaly it must flag, never resolve by picking.
func (r *Repository) FindByBookingNumber(ctx context.Context, bookingNumber string) ([]*Shipment, error) {
	return r.find(ctx, selectShipment+` WHERE booking_number = $1 ORDER BY id`, bookingNumber)
}

// FindByBLNumber returns every shipment holding the normalized BL number.
func (r *Repository) FindByBLNumber(ctx context.Context, blNumber string) ([]*Shipment, error) {
	return r.find(ctx, selectShipment+` WHERE bl_number = $1 ORDER BY id`, blNumber)
}

// FindByContainerNumber returns every shipment whose container set holds the
// normalized container number.
func (r *Repository) FindByContainerNumber(ctx context.Context, containerNumber string) ([]*Shipment, error) {
	return r.find(ctx, selectShipment+` WHERE container_numbers @> ARRAY[$1] ORDER BY id`, containerNumber)
}

func (r *Repository) find(ctx context.Context, query string, args ...any) ([]*Shipment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find shipments: %w", err)
	}
	defer rows.Close()

	var result []*Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// ListPage returns shipments with id > afterID in id order, at most limit
// rows. Rebuild and reporting sweeps page through this; there is no
// unbounded variant.
func (r *Repository) ListPage(ctx context.Context, afterID int64, limit int) ([]*Shipment, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	return r.find(ctx, selectShipment+` WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
}

// ApplyField writes one approved field slot. Identifier fields additionally
// update their indexed columns so the link cascade sees them. Callers must
// hold the per-shipment lock and must only pass slots the authority resolver
// approved.
func (r *Repository) ApplyField(ctx context.Context, id int64, entityType entities.Type, slot FieldSlot) error {
	slotJSON, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("marshal field slot: %w", err)
	}

	query := `
		UPDATE shipments
		SET fields = jsonb_set(coalesce(fields, '{}'::jsonb), ARRAY[$2::text], $3::jsonb),
		    updated_at = now()`
	switch entityType {
	case entities.TypeBookingNumber:
		query += `, booking_number = $4`
	case entities.TypeBLNumber:
		query += `, bl_number = $4`
	}
	query += ` WHERE id = $1`

	args := []any{id, string(entityType), slotJSON}
	if entityType == entities.TypeBookingNumber || entityType == entities.TypeBLNumber {
		args = append(args, slot.Value)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply field %s: %w", entityType, err)
	}
	if tag.RowsAffected() == 0 {
		return cverrors.ErrNotFound
	}
	return nil
}

// AppendContainers adds containers to the append-only set, skipping any
// already present. Nothing is ever removed.
func (r *Repository) AppendContainers(ctx context.Context, id int64, containers []string) error {
	if len(containers) == 0 {
		return nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE shipments
		SET container_numbers = (
			SELECT array_agg(DISTINCT c)
			FROM unnest(container_numbers || $2::text[]) AS c
		), updated_at = now()
		WHERE id = $1`,
		id, containers)
	if err != nil {
		return fmt.Errorf("append containers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cverrors.ErrNotFound
	}
	return nil
}

// ApplyWorkflowState records a fold outcome. Callers must only pass states
// produced by workflow.Fold; the monotonic guard lives there, not here.
func (r *Repository) ApplyWorkflowState(ctx context.Context, id int64, state workflow.State, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE shipments
		SET workflow_state = $2, workflow_state_updated_at = $3, updated_at = now()
		WHERE id = $1`,
		id, state, at)
	if err != nil {
		return fmt.Errorf("apply workflow state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cverrors.ErrNotFound
	}
	return nil
}

// InsertLink records a document-shipment link. Inserting an existing
// (document_id, shipment_id) pair is a no-op; the bool reports whether a new
// link was created.
func (r *Repository) InsertLink(ctx context.Context, link Link) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO shipment_links (document_id, shipment_id, matched_by, matched_value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, shipment_id) DO NOTHING`,
		link.DocumentID, link.ShipmentID, link.MatchedBy, link.MatchedValue)
	if err != nil {
		return false, fmt.Errorf("insert link: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListLinksByShipment returns the shipment's links in creation order.
func (r *Repository) ListLinksByShipment(ctx context.Context, shipmentID int64) ([]Link, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT document_id, shipment_id, matched_by, matched_value, created_at
		FROM shipment_links
		WHERE shipment_id = $1
		ORDER BY created_at, document_id`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.DocumentID, &l.ShipmentID, &l.MatchedBy, &l.MatchedValue, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

const maxPageSize = 500

const selectShipment = `
	SELECT id, coalesce(booking_number, ''), coalesce(bl_number, ''),
	       container_numbers, fields, workflow_state,
	       workflow_state_updated_at, created_at, updated_at
	FROM shipments`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (*Shipment, error) {
	var s Shipment
	var fields []byte
	err := row.Scan(
		&s.ID, &s.BookingNumber, &s.BLNumber, &s.ContainerNumbers,
		&fields, &s.WorkflowState, &s.WorkflowStateUpdatedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &s.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields for shipment %d: %w", s.ID, err)
		}
	}
	if s.Fields == nil {
		s.Fields = make(map[entities.Type]FieldSlot)
	}
	return &s, nil
}

// nullable maps "" to NULL so partial unique indexes on identifier columns
// ignore shipments that don't have one yet.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
